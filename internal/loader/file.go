package loader

import (
	"bytes"
	"context"
	"io"
	"os"
)

type fileLoader struct {
	filename string
}

// FileLoader loads a rule-set or catalog document from a local file. The
// file is re-read in full on every Load, so periodic reloads pick up edits
// in place.
func FileLoader(filename string) Loader {
	return &fileLoader{
		filename: filename,
	}
}

func (l *fileLoader) Load(ctx context.Context) (io.Reader, error) {
	data, err := os.ReadFile(l.filename)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (l *fileLoader) Close() error {
	return nil
}
