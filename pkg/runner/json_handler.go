package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// JSONHandler implements the IOHandler interface for structured JSON-Lines communication.
// Every response is one line; system messages are {"system": "..."} lines.
type JSONHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Encoder *json.Encoder
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Output(ctx context.Context, resp *domain.Response) error {
	if resp == nil {
		return nil
	}
	return h.Encoder.Encode(resp)
}

// Input reads one line. A JSON string is unquoted, an object is read as
// {"message": "..."} and anything else is taken as raw text.
func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	text = strings.TrimSpace(text)

	var val string
	if err := json.Unmarshal([]byte(text), &val); err == nil {
		return SanitizeInput(val)
	}
	var msg struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(text), &msg); err == nil && msg.Message != nil {
		return SanitizeInput(*msg.Message)
	}
	return SanitizeInput(text)
}

func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.Encoder.Encode(map[string]string{"system": msg})
}
