package main

import (
	"context"
	"os"
	"path/filepath"

	"docchat/internal/assistant"
)

// localUser is the user the terminal client chats as.
const localUser = "local"

// ingestLocal stores path in the local user's uploads, indexes it and makes
// it the document of the current terminal conversation.
func ingestLocal(ctx context.Context, svc *assistant.Service, path string) (*assistant.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return svc.Upload(ctx, localUser, filepath.Base(path), f)
}
