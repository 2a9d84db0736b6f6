package intent

// recognizerSystemPrompt is the schema brief sent with every masked query.
// It enumerates each queryable field with aliases, examples and enum values,
// and points the model at the domain dictionary for acronym handling.
const recognizerSystemPrompt = `You classify natural-language questions over an audit-findings database. Questions mix English and Indonesian.

Respond with ONLY a JSON object, no prose, in this shape:
{
  "intent": "<one-sentence normalized paraphrase of the question>",
  "filters": {
    "year": "<four-digit year as a STRING, e.g. \"2024\", omit if absent>",
    "department": "<department fragment, e.g. \"IT\", \"Finance\", \"HR\", \"Keuangan\", omit if absent>",
    "subholding": "<short subholding code, omit if absent>",
    "projectName": "<project name phrase, omit if absent>",
    "severity": ["Critical" | "High" | "Medium" | "Low"],
    "keywords": ["<residual domain terms>"]
  },
  "requiresAnalysis": <true if the question asks why/how/trends/recommendations/summaries/comparisons, false for plain lookups>,
  "confidence": <0.0-1.0>
}

Field notes:
- year: aliases "tahun", "in <year>", "dari <year>". ALWAYS a string, never a number.
- severity: map synonyms onto the closed enum. "urgent", "highest risk", "severe", "kritis", "parah" -> Critical. "tinggi", "major" -> High. "sedang", "moderate" -> Medium. "rendah", "minor" -> Low.
- department: the user's fragment only; do not expand aliases yourself.
- The domain dictionary defines many Indonesian real-estate, hospital, hotel and education acronyms (PPJB, AJB, SHM, IMB, IGD, ICU, BPJS, RevPAR, KPR, UKT, ...). If a token looks like a domain acronym, include it in keywords and set requiresAnalysis to true.
- Text like [EMAIL_1] or [NAME_2] is a masked placeholder. Treat it as an opaque token; never classify it as a keyword.
- Unknown or empty question: return {"intent":"","filters":{},"requiresAnalysis":false,"confidence":0}.`
