package lexicon

import "precedent/internal/types"

// builtin returns the uncompiled built-in tables. Phrases may be written in
// natural punctuation; Compile folds them into matcher form.
func builtin() *Lexicon {
	return &Lexicon{
		Domains:                builtinDomains(),
		Issues:                 builtinIssues(),
		Statutes:               builtinStatutes(),
		Procedures:             builtinProcedures(),
		Actors:                 builtinActors(),
		Synonyms:               builtinSynonyms(),
		KeywordPacks:           builtinKeywordPacks(),
		Templates:              builtinTemplates(),
		PolarityCues:           builtinPolarityCues(),
		PolarityContradictions: builtinPolarityContradictions(),
		HookAliases:            builtinHookAliases(),
		HookGroups:             builtinHookGroups(),
		SignalTokens:           builtinSignalTokens(),
		StopWords:              builtinStopWords(),
		NoisePrefixes:          builtinNoisePrefixes(),
		CourtTerms:             builtinCourtTerms(),
		AnchorPatterns:         builtinAnchorPatterns(),
	}
}

// ============================================================================
// RECOGNISERS
// ============================================================================

func builtinDomains() map[string][]string {
	return map[string][]string{
		"criminal": {
			"fir", "first information report", "chargesheet", "charge sheet",
			"cognizance", "accused", "bail", "anticipatory bail", "conviction",
			"acquittal", "criminal appeal", "criminal proceedings",
			"investigation", "prosecution", "offence", "murder", "cheating",
			"criminal breach of trust", "trial court convicted", "remand",
		},
		"civil": {
			"suit", "decree", "plaint", "written statement", "injunction",
			"specific performance", "civil appeal", "damages", "declaration",
			"recovery of possession", "money suit", "mesne profits",
			"permanent injunction",
		},
		"constitutional": {
			"writ petition", "fundamental rights", "judicial review",
			"natural justice", "ultra vires", "constitutional validity",
			"article 14", "article 21", "article 226", "article 32",
			"mandamus", "certiorari", "habeas corpus",
		},
		"limitation": {
			"time barred", "barred by limitation", "condonation of delay",
			"limitation period", "sufficient cause", "within limitation",
			"prescribed period", "condone the delay", "delay in filing",
			"delay in refiling", "laches",
		},
		"service": {
			"departmental inquiry", "departmental enquiry",
			"disciplinary proceedings", "dismissal from service",
			"compulsory retirement", "promotion", "seniority",
			"government servant", "disciplinary authority", "reinstatement",
			"suspension order", "charge memo",
		},
		"tax": {
			"assessment order", "income tax", "gst", "excise", "customs duty",
			"show cause notice", "tax demand", "assessing officer", "cenvat",
			"input tax credit", "reassessment",
		},
		"family": {
			"divorce", "maintenance", "custody", "cruelty", "desertion",
			"alimony", "restitution of conjugal rights", "matrimonial",
			"streedhan", "irretrievable breakdown",
		},
		"property": {
			"partition", "easement", "adverse possession", "sale deed",
			"gift deed", "mutation", "tenancy", "eviction", "land acquisition",
			"title suit", "encroachment", "specific performance of agreement to sell",
		},
		"arbitration": {
			"arbitral award", "arbitration clause", "arbitrator",
			"arbitral tribunal", "setting aside the award",
			"arbitration agreement", "arbitration petition",
		},
		"corruption": {
			"bribe", "bribery", "illegal gratification",
			"disproportionate assets", "trap case", "demand and acceptance",
			"corruption case", "graft",
		},
		"consumer": {
			"deficiency in service", "consumer complaint",
			"unfair trade practice", "consumer forum",
		},
		"labour": {
			"industrial dispute", "retrenchment", "workman", "back wages",
			"termination of workman", "labour court", "lockout",
		},
	}
}

func builtinIssues() map[string][]string {
	return map[string][]string{
		"sanction_for_prosecution": {
			"sanction for prosecution", "prior sanction", "previous sanction",
			"sanction to prosecute", "without sanction", "invalid sanction",
			"sanction order", "sanctioning authority",
		},
		"condonation_of_delay": {
			"condonation of delay", "condone the delay", "delay condoned",
			"sufficient cause", "delay of", "application for condonation",
		},
		"quashing_of_proceedings": {
			"quashing of fir", "quash the fir", "quashing of proceedings",
			"quash the chargesheet", "quashing petition",
			"abuse of the process of law",
		},
		"anticipatory_bail": {
			"anticipatory bail", "pre arrest bail", "apprehending arrest",
			"apprehension of arrest",
		},
		"regular_bail": {
			"bail application", "grant of bail", "released on bail",
			"cancellation of bail", "enlarged on bail", "default bail",
		},
		"maintainability": {
			"maintainable", "maintainability", "not maintainable",
			"alternative remedy", "locus standi", "res judicata",
			"rejection of plaint", "order 7 rule 11",
		},
		"compounding": {
			"compounding of offence", "compoundable",
			"settlement between the parties", "compromise between the parties",
		},
		"interim_relief": {
			"interim injunction", "stay of proceedings", "interim order",
			"status quo", "temporary injunction",
		},
		"natural_justice": {
			"principles of natural justice", "opportunity of hearing",
			"audi alteram partem", "no opportunity was given",
		},
		"specific_performance": {
			"specific performance of contract", "readiness and willingness",
			"agreement to sell", "time is the essence",
		},
		"dying_declaration": {
			"dying declaration", "statement of the deceased",
		},
		"circumstantial_evidence": {
			"circumstantial evidence", "chain of circumstances",
			"last seen together", "motive evidence",
		},
		"dowry_death": {
			"dowry death", "dowry demand", "soon before her death",
			"harassment for dowry",
		},
		"cheque_dishonour": {
			"dishonour of cheque", "cheque bounce", "cheque was dishonoured",
			"insufficient funds", "legally enforceable debt",
			"statutory notice of demand",
		},
		"arbitrability": {
			"arbitrable", "reference to arbitration",
			"appointment of arbitrator", "existence of arbitration agreement",
		},
		"appeal_against_acquittal": {
			"appeal against acquittal", "reversal of acquittal",
			"acquittal was set aside",
		},
		"back_wages": {
			"reinstatement with back wages", "back wages", "continuity of service",
		},
		"delay_in_fir": {
			"delay in lodging the fir", "delay in filing the fir",
			"fir was lodged after",
		},
		"juvenility": {
			"juvenile", "juvenility", "age determination",
			"plea of juvenility",
		},
		"electronic_evidence": {
			"electronic evidence", "electronic record", "call detail records",
			"cctv footage", "certificate under section 65b",
		},
	}
}

func builtinStatutes() map[string][]string {
	return map[string][]string{
		"ipc":             {"indian penal code", "ipc", "i.p.c.", "penal code"},
		"crpc":            {"code of criminal procedure", "crpc", "cr.p.c.", "criminal procedure code"},
		"cpc":             {"code of civil procedure", "cpc", "c.p.c.", "civil procedure code"},
		"pc_act":          {"prevention of corruption act", "pc act", "p.c. act"},
		"limitation_act":  {"limitation act"},
		"evidence_act":    {"indian evidence act", "evidence act"},
		"ni_act":          {"negotiable instruments act", "ni act", "n.i. act"},
		"constitution":    {"constitution of india", "the constitution"},
		"arbitration_act": {"arbitration and conciliation act", "arbitration act"},
		"hma":             {"hindu marriage act", "hma"},
		"hsa":             {"hindu succession act"},
		"mv_act":          {"motor vehicles act", "mv act"},
		"sarfaesi":        {"securitisation and reconstruction of financial assets and enforcement of security interest act", "sarfaesi act", "sarfaesi"},
		"it_act":          {"income tax act"},
		"gst_act":         {"central goods and services tax act", "cgst act", "gst act"},
		"id_act":          {"industrial disputes act"},
		"sc_st_act":       {"scheduled castes and the scheduled tribes prevention of atrocities act", "sc st act", "atrocities act"},
		"ndps_act":        {"narcotic drugs and psychotropic substances act", "ndps act", "ndps"},
		"pocso_act":       {"protection of children from sexual offences act", "pocso act", "pocso"},
		"uapa":            {"unlawful activities prevention act", "uapa"},
		"dv_act":          {"protection of women from domestic violence act", "domestic violence act", "dv act"},
		"tp_act":          {"transfer of property act"},
		"contract_act":    {"indian contract act", "contract act"},
		"consumer_act":    {"consumer protection act"},
		"pmla":            {"prevention of money laundering act", "pmla"},
		"bns":             {"bharatiya nyaya sanhita", "bns"},
		"bnss":            {"bharatiya nagarik suraksha sanhita", "bnss"},
		"bsa":             {"bharatiya sakshya adhiniyam", "bsa"},
	}
}

func builtinProcedures() map[string][]string {
	return map[string][]string{
		"appeal":         {"appeal", "appellate", "first appeal", "second appeal"},
		"revision":       {"revision petition", "revisional jurisdiction", "criminal revision"},
		"writ":           {"writ petition", "writ jurisdiction"},
		"slp":            {"special leave petition", "slp", "special leave to appeal"},
		"review":         {"review petition", "review of the judgment"},
		"quash_petition": {"quashing petition", "petition for quashing", "petition under section 482"},
		"bail_plea":      {"bail application", "bail petition", "bail plea"},
		"condonation":    {"application for condonation of delay", "delay condonation application"},
		"reference":      {"reference to a larger bench", "referred to a larger bench"},
		"curative":       {"curative petition"},
	}
}

func builtinActors() map[string][]string {
	return map[string][]string{
		"public_servant": {"public servant", "government servant", "government employee", "public official"},
		"police":         {"police officer", "investigating officer", "station house officer", "sho"},
		"accused":        {"accused", "co accused", "appellant accused"},
		"complainant":    {"complainant", "informant", "de facto complainant"},
		"state":          {"state of", "union of india", "central government", "state government"},
		"company":        {"company", "director of the company", "firm", "partnership firm"},
		"workman":        {"workman", "employee", "daily wager"},
		"tenant":         {"tenant", "landlord", "lessee", "lessor"},
		"spouse":         {"husband", "wife", "spouse"},
		"bank":           {"bank", "financial institution", "secured creditor"},
	}
}

// ============================================================================
// EXPANSION TABLES
// ============================================================================

func builtinSynonyms() map[string][]string {
	return map[string][]string{
		"quash":          {"quashing", "set aside", "annul"},
		"quashed":        {"set aside", "annulled"},
		"condone":        {"condonation", "excuse the delay"},
		"condoned":       {"condonation allowed", "delay excused"},
		"sanction":       {"previous sanction", "prior sanction"},
		"fir":            {"first information report"},
		"limitation":     {"time bar", "period of limitation"},
		"public servant": {"government servant", "public official"},
		"cheque":         {"negotiable instrument"},
		"maintenance":    {"alimony", "interim maintenance"},
		"injunction":     {"temporary injunction", "restraint order"},
		"divorce":        {"dissolution of marriage"},
		"murder":         {"culpable homicide"},
		"evidence":       {"testimony", "deposition"},
		"delay":          {"laches"},
		"writ":           {"writ petition"},
		"compensation":   {"damages"},
		"dowry":          {"dowry demand"},
		"award":          {"arbitral award"},
		"dismissed":      {"rejected"},
		"bail":           {"enlarged on bail"},
		"termination":    {"dismissal from service", "removal from service"},
		"possession":     {"occupation", "vacant possession"},
	}
}

func builtinKeywordPacks() map[string][]string {
	return map[string][]string{
		"criminal":       {"criminal appeal", "conviction", "acquittal", "cognizance", "chargesheet"},
		"civil":          {"civil appeal", "decree", "suit", "injunction"},
		"constitutional": {"writ petition", "fundamental rights", "judicial review"},
		"limitation":     {"condonation of delay", "sufficient cause", "time barred"},
		"service":        {"departmental inquiry", "disciplinary proceedings", "reinstatement"},
		"tax":            {"assessment order", "show cause notice", "demand"},
		"family":         {"matrimonial", "maintenance", "custody"},
		"property":       {"possession", "title", "partition"},
		"arbitration":    {"arbitral award", "arbitration clause", "setting aside"},
		"corruption":     {"illegal gratification", "trap", "disproportionate assets", "sanction"},
		"consumer":       {"deficiency in service", "consumer complaint"},
		"labour":         {"industrial dispute", "workman", "retrenchment", "back wages"},
	}
}

func builtinTemplates() map[string][]string {
	return map[string][]string{
		"": {
			"{issue} supreme court landmark judgment",
			"{statute} leading case law",
			"{domain} important supreme court judgments",
			"{issue} {statute} judgment",
		},
		"criminal":    {"{issue} criminal appeal supreme court"},
		"limitation":  {"condonation of delay sufficient cause leading case"},
		"corruption":  {"sanction prevention of corruption act landmark judgment"},
		"arbitration": {"setting aside arbitral award supreme court"},
	}
}

// ============================================================================
// POLARITY
// ============================================================================

// builtinPolarityCues lists phrases that evidence a disposition. Several cue
// sets overlap as substrings (required vs not required, allowed vs not
// condoned); intent.InferOutcomePolarity checks the negated sets first.
func builtinPolarityCues() map[types.OutcomePolarity][]string {
	return map[types.OutcomePolarity][]string{
		types.PolarityNotRequired: {
			"not required", "no sanction", "not necessary", "without sanction",
			"no prior sanction", "dispensed with", "not a condition precedent",
			"not mandatory",
		},
		types.PolarityRequired: {
			"is required", "mandatory", "must be obtained",
			"condition precedent", "prior sanction needed", "necessary before",
			"is a sine qua non", "requirement of sanction",
		},
		types.PolarityQuashed: {
			"quashed", "quashing", "set aside the fir",
			"proceedings were quashed", "deserves to be quashed",
		},
		types.PolarityDismissed: {
			"dismissed", "dismissal of the appeal", "rejected as time barred",
			"barred by limitation", "liable to be dismissed",
		},
		types.PolarityRefused: {
			"refused", "declined", "not condoned", "rejected",
			"condonation was refused", "delay was not condoned",
		},
		types.PolarityAllowed: {
			"allowed", "condoned", "granted", "upheld", "delay was condoned",
			"appeal was allowed", "relief was granted",
		},
	}
}

// builtinPolarityContradictions lists phrases that defeat a desired
// disposition when found in a candidate judgment. Matching applies the
// negation guard, so "not condoned" in a judgment does not fire the
// "condoned" contradiction of a refused-polarity query.
func builtinPolarityContradictions() map[types.OutcomePolarity][]string {
	return map[types.OutcomePolarity][]string{
		types.PolarityRequired: {
			"not required", "no sanction", "not necessary", "not mandatory",
			"dispensed with", "not a condition precedent",
		},
		types.PolarityNotRequired: {
			"is required", "mandatory", "must be obtained",
			"condition precedent", "sine qua non",
		},
		types.PolarityAllowed: {
			"dismissed", "refused", "declined", "rejected", "not condoned",
			"not maintainable",
		},
		types.PolarityRefused: {
			"condoned", "allowed", "granted", "upheld",
		},
		types.PolarityDismissed: {
			"allowed", "set aside", "granted",
		},
		types.PolarityQuashed: {
			"refused to quash", "declined to quash", "dismissed",
		},
	}
}

// ============================================================================
// HOOK METADATA
// ============================================================================

// builtinHookAliases carries doctrine phrasings for frequently litigated
// hooks, keyed by the id produced by hook extraction.
func builtinHookAliases() map[string][]string {
	return map[string][]string{
		"sec_482_crpc":           {"inherent powers", "quashing of fir"},
		"sec_197_crpc":           {"sanction to prosecute a public servant"},
		"sec_19_pc_act":          {"previous sanction under the prevention of corruption act"},
		"sec_5_limitation_act":   {"condonation of delay", "sufficient cause"},
		"sec_138_ni_act":         {"dishonour of cheque", "cheque bounce"},
		"sec_141_ni_act":         {"offences by companies cheque"},
		"sec_34_ipc":             {"common intention"},
		"sec_149_ipc":            {"unlawful assembly common object"},
		"sec_302_ipc":            {"punishment for murder"},
		"sec_304b_ipc":           {"dowry death"},
		"sec_306_ipc":            {"abetment of suicide"},
		"sec_498a_ipc":           {"cruelty by husband or his relatives"},
		"sec_420_ipc":            {"cheating and dishonestly inducing delivery of property"},
		"sec_313_crpc":           {"examination of the accused"},
		"sec_161_crpc":           {"statement to the police"},
		"sec_164_crpc":           {"statement before the magistrate"},
		"sec_125_crpc":           {"maintenance of wife and children"},
		"sec_438_crpc":           {"anticipatory bail"},
		"sec_439_crpc":           {"regular bail high court"},
		"sec_11_arbitration_act": {"appointment of arbitrator"},
		"sec_34_arbitration_act": {"setting aside arbitral award"},
		"sec_9_arbitration_act":  {"interim measures arbitration"},
		"sec_100_cpc":            {"second appeal substantial question of law"},
		"sec_65b_evidence_act":   {"electronic evidence certificate"},
		"sec_27_evidence_act":    {"recovery at the instance of the accused"},
		"sec_32_evidence_act":    {"dying declaration"},
		"sec_113b_evidence_act":  {"presumption as to dowry death"},
		"sec_13_hma":             {"divorce grounds"},
		"sec_25_hma":             {"permanent alimony"},
		"sec_37_ndps_act":        {"twin conditions for bail"},
		"sec_45_pmla":            {"twin conditions for bail money laundering"},
		"art_226":                {"writ jurisdiction of the high court"},
		"art_136":                {"special leave to appeal"},
		"art_32":                 {"enforcement of fundamental rights"},
		"art_14":                 {"equality before law", "manifest arbitrariness"},
		"art_21":                 {"right to life and personal liberty"},
		"art_311":                {"dismissal of a civil servant"},
		"art_142":                {"complete justice"},
		"order_7_rule_11_cpc":    {"rejection of plaint"},
		"order_39_rule_1_cpc":    {"temporary injunction"},
		"pc_act":                 {"corruption by public servants"},
		"limitation_act":         {"law of limitation"},
	}
}

// builtinHookGroups lists hooks that substitute for one another. A judgment
// matching any member satisfies a checklist item bound to the group.
func builtinHookGroups() map[string][]string {
	return map[string][]string{
		"quashing_route":  {"sec_482_crpc", "art_226"},
		"sanction_route":  {"sec_197_crpc", "sec_19_pc_act"},
		"regular_bail":    {"sec_437_crpc", "sec_439_crpc"},
		"maintenance":     {"sec_125_crpc", "sec_24_hma", "sec_25_hma"},
		"dowry_death":     {"sec_304b_ipc", "sec_113b_evidence_act"},
		"writ_route":      {"art_226", "art_32"},
		"award_challenge": {"sec_34_arbitration_act", "sec_37_arbitration_act"},
		"cheque_offence":  {"sec_138_ni_act", "sec_141_ni_act"},
		"bail_rigour":     {"sec_37_ndps_act", "sec_45_pmla"},
	}
}

// ============================================================================
// TOKENS, NOISE, COURTS, ANCHORS
// ============================================================================

func builtinSignalTokens() []string {
	return []string{
		"act", "section", "sections", "article", "court", "judgment",
		"judgement", "appeal", "fir", "bail", "writ", "petition", "accused",
		"conviction", "acquittal", "decree", "suit", "sanction", "limitation",
		"condonation", "quash", "quashed", "quashing", "arbitration", "award",
		"maintenance", "divorce", "custody", "evidence", "prosecution",
		"offence", "ipc", "crpc", "cpc", "charge", "chargesheet", "cognizance",
		"injunction", "possession", "tribunal", "constitutional", "statute",
		"statutory", "respondent", "appellant", "plaintiff", "defendant",
		"complainant", "cheque", "dishonour", "precedent", "supreme",
		"magistrate", "sessions", "prosecutor", "advocate", "tenant",
		"landlord", "eviction", "partition", "dowry", "cruelty", "workman",
		"retrenchment", "compensation", "assessment", "notice", "summons",
		"warrant", "remand", "parole", "probation", "juvenile", "pocso",
		"ndps", "pmla", "sarfaesi", "uapa", "slp", "hc", "sc",
	}
}

func builtinStopWords() []string {
	return []string{
		"the", "a", "an", "of", "in", "on", "for", "and", "or", "to", "is",
		"are", "was", "were", "be", "been", "being", "by", "with", "that",
		"this", "these", "those", "it", "its", "as", "at", "from", "has",
		"have", "had", "he", "she", "they", "we", "i", "you", "me", "my",
		"his", "her", "their", "our", "your", "if", "then", "than", "but",
		"so", "do", "does", "did", "can", "could", "will", "would", "shall",
		"should", "may", "might", "there", "here", "what", "which", "who",
		"whom", "when", "where", "how", "about", "into", "over", "under",
		"after", "before", "between", "any", "some", "such", "also", "very",
		"please", "kindly",
	}
}

func builtinNoisePrefixes() []string {
	return []string{
		"please", "kindly", "can you", "could you", "would you", "i want to",
		"i want", "i need", "i am looking for", "im looking for",
		"looking for", "find me", "find", "show me", "give me", "search for",
		"search", "list out", "list", "get me", "help me find", "help me",
		"suggest", "provide", "tell me about", "tell me", "need", "want",
		"cases on", "case law on", "judgments on", "any judgment on",
	}
}

func builtinCourtTerms() map[types.CourtScope][]string {
	return map[types.CourtScope][]string{
		types.CourtScopeSC: {
			"supreme court", "apex court", "honble supreme court",
			"supreme court of india",
		},
		types.CourtScopeHC: {
			"high court", "bombay high court", "delhi high court",
			"madras high court", "calcutta high court", "allahabad high court",
			"karnataka high court", "kerala high court", "gujarat high court",
			"punjab and haryana high court", "rajasthan high court",
			"madhya pradesh high court", "patna high court",
			"orissa high court", "telangana high court",
			"andhra pradesh high court", "gauhati high court",
			"jharkhand high court", "chhattisgarh high court",
			"uttarakhand high court", "himachal pradesh high court",
			"jammu and kashmir high court",
		},
	}
}

// builtinAnchorPatterns pull distinctive fact anchors out of a query. They
// run against normalised text, so no punctuation classes are needed.
func builtinAnchorPatterns() []string {
	return []string{
		`\bdelay of \d+ (?:days?|months?|years?)\b`,
		`\b\d+ (?:days?|months?|years?) (?:of )?delay\b`,
		`\brs \d[\d ]*(?:lakhs?|crores?)?\b`,
		`\b\d+(?: \d+)? (?:lakhs?|crores?)\b`,
		`\b\d+ (?:acres?|bighas?|hectares?|sq (?:ft|feet|yards?|metres?))\b`,
		`\bwithin \d+ (?:days?|months?|years?)\b`,
	}
}
