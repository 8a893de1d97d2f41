package petition

// Message is the client-to-server payload: an opaque, client-chosen id and
// a bag of extras carrying whatever convert_to_petition-equivalent code
// needs to build a Petition.
type Message struct {
	ID     string         `json:"id"`
	Extras map[string]any `json:"extras,omitempty"`
}
