package activitypub

import (
	"encoding/json"
	"fmt"
)

const activityContext = "https://www.w3.org/ns/activitystreams"

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// StringList accepts either a single JSON string or an array of strings,
// which peers use interchangeably for to/cc addressing.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = StringList(many)
		return nil
	}
	return fmt.Errorf("addressing field is neither string nor array")
}

// Activity is the generic inbound envelope. Object stays raw until the
// verb handler decides how to read it.
type Activity struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	To      StringList      `json:"to"`
	Cc      StringList      `json:"cc"`
}

// ObjectStub is the minimal decoding of an embedded object: enough to
// learn its identity and kind before committing to a full parse.
type ObjectStub struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}

// objectRef extracts the referenced object URI, tolerating either a
// bare string reference or an embedded object with an id.
func (a *Activity) objectRef() string {
	uri, _, _ := decodeObject(a.Object)
	return uri
}

// decodeObject returns the object URI plus the stub when the object was
// embedded (nil for a bare reference).
func decodeObject(raw json.RawMessage) (string, *ObjectStub, error) {
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("missing object")
	}

	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return uri, nil, nil
	}

	var stub ObjectStub
	if err := json.Unmarshal(raw, &stub); err != nil {
		return "", nil, fmt.Errorf("object is neither reference nor embedded object: %w", err)
	}
	return stub.ID, &stub, nil
}

// NoteObject is the full decoding of a Note/Article/Page-equivalent
// object carried by Create and Update.
type NoteObject struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo string          `json:"attributedTo"`
	Name         string          `json:"name"`
	Content      string          `json:"content"`
	URL          string          `json:"url"`
	Summary      string          `json:"summary"`
	InReplyTo    string          `json:"inReplyTo"`
	Published    string          `json:"published"`
	Sensitive    bool            `json:"sensitive"`
	To           StringList      `json:"to"`
	Cc           StringList      `json:"cc"`
	Tag          []TagDTO        `json:"tag"`
	Attachment   []AttachmentDTO `json:"attachment"`
}

// TagDTO covers Hashtag and Mention entries in an object's tag array.
type TagDTO struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href"`
}

// AttachmentDTO covers Document (media) and Link attachments.
type AttachmentDTO struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Href      string `json:"href"`
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// noteTypes is the closed set of post-like object kinds the Create and
// Update handlers accept.
var noteTypes = map[string]bool{
	"Note":    true,
	"Article": true,
	"Page":    true,
}

// actorTypes is the closed set of actor kinds Update(profile) accepts.
var actorTypes = map[string]bool{
	"Person":       true,
	"Group":        true,
	"Service":      true,
	"Organization": true,
}
