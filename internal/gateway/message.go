package gateway

import (
	"bytes"
	"encoding/json"
)

// Message is one chat message normalized to plain text.
type Message struct {
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	IsUser bool   `json:"isUser,omitempty"`
}

// rawMessage lists every field a host message may carry its text in.
type rawMessage struct {
	Text    *string `json:"text"`
	Content *string `json:"content"`
	Mes     *string `json:"mes"`
	Message *string `json:"message"`
	Name    string  `json:"name"`
	IsUser  bool    `json:"is_user"`
	IsUser2 bool    `json:"isUser"`
}

// UnmarshalJSON accepts a bare string or an object carrying its text in
// text, content, mes or message, tried in that order. Anything else decodes
// to an empty message.
func (m *Message) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*m = Message{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &m.Text)
	}
	if data[0] != '{' {
		return nil
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for _, s := range []*string{raw.Text, raw.Content, raw.Mes, raw.Message} {
		if s != nil {
			m.Text = *s
			break
		}
	}
	m.Name = raw.Name
	m.IsUser = raw.IsUser || raw.IsUser2
	return nil
}

// Texts returns the text of each message.
func Texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
