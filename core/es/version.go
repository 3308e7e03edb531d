package es

import "log/slog"

// Version represents the version number of an aggregate within its stream.
// The creation event has version 1, every further event increments it by
// one. Version 0 means the aggregate has no events.
type Version uint64

// FirstVersion is the version of the creation event.
const FirstVersion Version = 1

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
