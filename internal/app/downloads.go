package app

import (
	"context"
	"io"

	"messenger-client/internal/storage"
)

// Download fetches a server-side attachment into the local download store.
func (a *App) Download(ctx context.Context, chatID int, path string) (storage.Download, error) {
	store, err := a.Downloads()
	if err != nil {
		return storage.Download{}, err
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := a.api.Download(ctx, path, pw)
		pw.CloseWithError(err)
	}()
	d, err := store.Save(path, chatID, pr)
	_ = pr.CloseWithError(err)
	return d, err
}
