package es

import (
	"log/slog"
)

type (
	repoOpts struct {
		log         *slog.Logger
		snapshotter Snapshotter
		metrics     ESMetrics
		getOpts     []GetOption
		saveOpts    []SaveOption
	}

	repoGetOptions struct {
		snapshot  bool
		atVersion Version
		bounded   bool
	}

	repoSaveOptions struct {
		snapshot bool
	}
)

type (
	RepositoryOption interface{ applyToRepository(*repoOpts) }
	GetOption        interface{ applyToGetOptions(*repoGetOptions) }
	SaveOption       interface{ applyToSaveOptions(*repoSaveOptions) }

	SnapshotOption  valueOption[bool]
	AtVersionOption valueOption[Version]
	GetOptsOption   MultiOption[GetOption]
	SaveOptsOption  MultiOption[SaveOption]
)

// WithSnapshot enables reading (on get) or writing (on save) snapshots.
func WithSnapshot(enabled bool) SnapshotOption { return SnapshotOption{v: enabled} }

// WithAtVersion reconstructs the aggregate as of version v, inclusive.
// Snapshots newer than v are ignored. Version 0 never exists.
func WithAtVersion(v Version) AtVersionOption { return AtVersionOption{v: v} }

// WithGetOpts sets default get options of a repository.
func WithGetOpts(opts ...GetOption) GetOptsOption { return GetOptsOption{opts: opts} }

// WithSaveOpts sets default save options of a repository.
func WithSaveOpts(opts ...SaveOption) SaveOptsOption { return SaveOptsOption{opts: opts} }

// === repo ==

func (o GetOptsOption) applyToRepository(options *repoOpts) {
	options.getOpts = append(options.getOpts, o.opts...)
}
func (o SaveOptsOption) applyToRepository(options *repoOpts) {
	options.saveOpts = append(options.saveOpts, o.opts...)
}

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

// === get ==

func (o SnapshotOption) applyToGetOptions(options *repoGetOptions) { options.snapshot = o.v }
func (o AtVersionOption) applyToGetOptions(options *repoGetOptions) {
	options.atVersion = o.v
	options.bounded = true
}
func (o GetOptsOption) applyToGetOptions(options *repoGetOptions) {
	for _, opt := range o.opts {
		opt.applyToGetOptions(options)
	}
}

func newGetOptions(opts ...GetOption) repoGetOptions {
	options := repoGetOptions{}
	for _, opt := range opts {
		opt.applyToGetOptions(&options)
	}
	return options
}

func (o repoGetOptions) readOptions(from Version) []ReadOption {
	ro := []ReadOption{WithFromVersion(from)}
	if o.bounded {
		ro = append(ro, WithToVersion(o.atVersion))
	}
	return ro
}

func (o repoGetOptions) logAttrs() slog.Attr {
	attrs := []any{slog.Bool("snapshot", o.snapshot)}
	if o.bounded {
		attrs = append(attrs, o.atVersion.SlogAttrWithKey("at_version"))
	}
	return slog.Group("opts", attrs...)
}

// === save ==

func (o SnapshotOption) applyToSaveOptions(options *repoSaveOptions) { options.snapshot = o.v }
func (o SaveOptsOption) applyToSaveOptions(options *repoSaveOptions) {
	for _, opt := range o.opts {
		opt.applyToSaveOptions(options)
	}
}

func newSaveOptions(opts ...SaveOption) repoSaveOptions {
	options := repoSaveOptions{}
	for _, opt := range opts {
		opt.applyToSaveOptions(&options)
	}
	return options
}
