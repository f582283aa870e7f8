package domain

import "context"

// Transport delivers text to a chat recipient.
type Transport interface {
	SendText(ctx context.Context, recipient, text string) error
}

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// ImageDescriber turns an image into a textual description. caption may be empty.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte, mimeType, caption string) (string, error)
}
