package answers

// IntentKind is the closed set of things a chat line can ask for.
type IntentKind int

const (
	// IntentDocumentation looks up an identifier such as Array#map.
	IntentDocumentation IntentKind = iota + 1
	// IntentListAll lists every stored question.
	IntentListAll
	// IntentCreate stores a new question and answer.
	IntentCreate
	// IntentRead shows the answer for a question.
	IntentRead
	// IntentUpdate replaces the answer of a stored question.
	IntentUpdate
	// IntentDelete removes a stored question.
	IntentDelete
)

// String returns the intent name used in logs.
func (k IntentKind) String() string {
	switch k {
	case IntentDocumentation:
		return "documentation"
	case IntentListAll:
		return "list_all"
	case IntentCreate:
		return "create"
	case IntentRead:
		return "read"
	case IntentUpdate:
		return "update"
	case IntentDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Intent is one classified chat line with its extracted arguments.
type Intent struct {
	Kind IntentKind
	// Query is set for IntentDocumentation.
	Query string
	// Question is set for create, read, update and delete.
	Question string
	// Answer is set for create and update.
	Answer string
}
