package dialect

type ErrorKind string

const (
	KindSyntax      ErrorKind = "syntax"
	KindDialect     ErrorKind = "dialect"
	KindSecurity    ErrorKind = "security"
	KindPerformance ErrorKind = "performance"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type ValidationError struct {
	Kind       ErrorKind `json:"kind"`
	Rule       string    `json:"rule,omitempty"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	Suggestion string    `json:"suggestion,omitempty"`
}

type ValidationWarning struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// ValidationResult is valid exactly when Errors is empty.
type ValidationResult struct {
	IsValid  bool                `json:"is_valid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

func (r ValidationResult) HasSecurityError() bool {
	for _, e := range r.Errors {
		if e.Kind == KindSecurity {
			return true
		}
	}
	return false
}

func (r ValidationResult) HasCritical() bool {
	for _, e := range r.Errors {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Messages flattens the errors into "message (suggestion)" lines.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		line := e.Message
		if e.Suggestion != "" {
			line += " (" + e.Suggestion + ")"
		}
		out = append(out, line)
	}
	return out
}

type RepairAction struct {
	Kind        string     `json:"kind"`
	Original    string     `json:"original"`
	Replacement string     `json:"replacement"`
	Confidence  Confidence `json:"confidence"`
}

type RepairResult struct {
	RepairedText string         `json:"repaired_text"`
	Repairs      []RepairAction `json:"repairs"`
	AppliedAny   bool           `json:"applied_any"`
}
