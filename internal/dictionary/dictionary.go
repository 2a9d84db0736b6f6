// Package dictionary holds the static table of domain acronyms used across
// the audit-findings corpus: Indonesian real-estate, hospital, hotel,
// education and finance terms. The table is read-only after initialization;
// lookup is case-insensitive, exact-match on whole tokens.
package dictionary

import (
	"regexp"
	"strings"

	"temuan/internal/logging"
	"temuan/internal/types"
)

// entries is the canonical acronym table. Raw department data and user
// queries mix English and Indonesian, so both expansions are carried.
var entries = []types.DictionaryEntry{
	// Real estate / property
	{Acronym: "PPJB", FullForm: "Perjanjian Pengikatan Jual Beli", EnglishTranslation: "binding sale agreement", Category: "real-estate"},
	{Acronym: "AJB", FullForm: "Akta Jual Beli", EnglishTranslation: "deed of sale", Category: "real-estate"},
	{Acronym: "SHM", FullForm: "Sertifikat Hak Milik", EnglishTranslation: "freehold certificate", Category: "real-estate"},
	{Acronym: "SHGB", FullForm: "Sertifikat Hak Guna Bangunan", EnglishTranslation: "building rights certificate", Category: "real-estate"},
	{Acronym: "IMB", FullForm: "Izin Mendirikan Bangunan", EnglishTranslation: "building permit", Category: "real-estate"},
	{Acronym: "PBG", FullForm: "Persetujuan Bangunan Gedung", EnglishTranslation: "building approval", Category: "real-estate"},
	{Acronym: "KPR", FullForm: "Kredit Pemilikan Rumah", EnglishTranslation: "home ownership loan", Category: "real-estate"},
	{Acronym: "NJOP", FullForm: "Nilai Jual Objek Pajak", EnglishTranslation: "taxable object sale value", Category: "real-estate"},
	{Acronym: "BPHTB", FullForm: "Bea Perolehan Hak atas Tanah dan Bangunan", EnglishTranslation: "land and building acquisition duty", Category: "real-estate"},
	{Acronym: "PSU", FullForm: "Prasarana Sarana dan Utilitas", EnglishTranslation: "public infrastructure and utilities", Category: "real-estate"},

	// Hospital / healthcare
	{Acronym: "IGD", FullForm: "Instalasi Gawat Darurat", EnglishTranslation: "emergency department", Category: "healthcare"},
	{Acronym: "ICU", FullForm: "Intensive Care Unit", EnglishTranslation: "intensive care unit", Category: "healthcare"},
	{Acronym: "BPJS", FullForm: "Badan Penyelenggara Jaminan Sosial", EnglishTranslation: "national health insurance agency", Category: "healthcare"},
	{Acronym: "RME", FullForm: "Rekam Medis Elektronik", EnglishTranslation: "electronic medical record", Category: "healthcare"},
	{Acronym: "BOR", FullForm: "Bed Occupancy Rate", EnglishTranslation: "bed occupancy rate", Category: "healthcare"},
	{Acronym: "ALOS", FullForm: "Average Length of Stay", EnglishTranslation: "average length of stay", Category: "healthcare"},

	// Hospitality
	{Acronym: "RevPAR", FullForm: "Revenue per Available Room", EnglishTranslation: "revenue per available room", Category: "hospitality"},
	{Acronym: "ADR", FullForm: "Average Daily Rate", EnglishTranslation: "average daily rate", Category: "hospitality"},
	{Acronym: "GOP", FullForm: "Gross Operating Profit", EnglishTranslation: "gross operating profit", Category: "hospitality"},
	{Acronym: "OTA", FullForm: "Online Travel Agent", EnglishTranslation: "online travel agent", Category: "hospitality"},
	{Acronym: "F&B", FullForm: "Food and Beverage", EnglishTranslation: "food and beverage", Category: "hospitality"},

	// Education
	{Acronym: "UKT", FullForm: "Uang Kuliah Tunggal", EnglishTranslation: "single tuition fee", Category: "education"},
	{Acronym: "KRS", FullForm: "Kartu Rencana Studi", EnglishTranslation: "study plan card", Category: "education"},
	{Acronym: "SPP", FullForm: "Sumbangan Pembinaan Pendidikan", EnglishTranslation: "tuition contribution", Category: "education"},

	// Finance / procurement / general corporate
	{Acronym: "NPWP", FullForm: "Nomor Pokok Wajib Pajak", EnglishTranslation: "taxpayer identification number", Category: "finance"},
	{Acronym: "RAB", FullForm: "Rencana Anggaran Biaya", EnglishTranslation: "cost budget plan", Category: "finance"},
	{Acronym: "SPK", FullForm: "Surat Perintah Kerja", EnglishTranslation: "work order", Category: "procurement"},
	{Acronym: "BAST", FullForm: "Berita Acara Serah Terima", EnglishTranslation: "handover report", Category: "procurement"},
	{Acronym: "TKDN", FullForm: "Tingkat Komponen Dalam Negeri", EnglishTranslation: "local content requirement", Category: "procurement"},
	{Acronym: "K3", FullForm: "Keselamatan dan Kesehatan Kerja", EnglishTranslation: "occupational health and safety", Category: "operations"},
	{Acronym: "SOP", FullForm: "Standar Operasional Prosedur", EnglishTranslation: "standard operating procedure", Category: "operations"},
}

// Dictionary provides read-only lookup over the acronym table.
type Dictionary struct {
	byToken map[string]types.DictionaryEntry
	tokenRe *regexp.Regexp
}

// New builds the lookup index. The index maps both the acronym and the full
// form (lowercased) to the entry.
func New() *Dictionary {
	d := &Dictionary{
		byToken: make(map[string]types.DictionaryEntry, len(entries)*2),
		tokenRe: regexp.MustCompile(`[A-Za-z&][A-Za-z0-9&]*`),
	}
	for _, e := range entries {
		d.byToken[strings.ToLower(e.Acronym)] = e
		if e.FullForm != "" {
			d.byToken[strings.ToLower(e.FullForm)] = e
		}
	}
	logging.Dictionary("dictionary loaded: %d entries", len(entries))
	return d
}

// Entries returns the full table (copy).
func (d *Dictionary) Entries() []types.DictionaryEntry {
	out := make([]types.DictionaryEntry, len(entries))
	copy(out, entries)
	return out
}

// Lookup resolves a single token (acronym or full form), case-insensitively.
func (d *Dictionary) Lookup(token string) (types.DictionaryEntry, bool) {
	e, ok := d.byToken[strings.ToLower(strings.TrimSpace(token))]
	return e, ok
}

// ExpansionsFor returns the keyword set for a token, or nil when unknown.
func (d *Dictionary) ExpansionsFor(token string) []string {
	e, ok := d.Lookup(token)
	if !ok {
		return nil
	}
	return e.Expansions()
}

// ContainsAcronym scans text for whole-token acronym occurrences and returns
// the matched entries, deduplicated, in order of first appearance. Tokens
// inside [KIND_N]-style placeholders are opaque and never expanded.
func (d *Dictionary) ContainsAcronym(text string) []types.DictionaryEntry {
	if text == "" {
		return nil
	}
	stripped := placeholderRe.ReplaceAllString(text, " ")

	seen := make(map[string]bool)
	var out []types.DictionaryEntry
	for _, tok := range d.tokenRe.FindAllString(stripped, -1) {
		e, ok := d.Lookup(tok)
		if !ok || seen[e.Acronym] {
			continue
		}
		seen[e.Acronym] = true
		out = append(out, e)
	}
	if len(out) > 0 {
		logging.DictionaryDebug("found %d acronym(s) in query", len(out))
	}
	return out
}

var placeholderRe = regexp.MustCompile(`\[[A-Za-z]+_\d+\]`)
