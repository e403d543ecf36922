package session

import "context"

// Committer dispatches a completed transcript, e.g. to the clipboard.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, transcript string) error {
	return f(ctx, transcript)
}

// Archiver records every terminal result.
type Archiver interface {
	Archive(context.Context, Result) error
}

// ArchiveFunc adapts a function to the Archiver interface.
type ArchiveFunc func(context.Context, Result) error

func (f ArchiveFunc) Archive(ctx context.Context, result Result) error {
	return f(ctx, result)
}
