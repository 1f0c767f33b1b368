package config

import "path/filepath"

// StreamDir is <data_root>/<stream_id>; with no stream_id the data root
// itself hosts the stream's files.
func (c *Config) StreamDir() string {
	if c.StreamID == "" {
		return c.DataRoot
	}
	return filepath.Join(c.DataRoot, c.StreamID)
}

// ClipsRoot is the directory holding the per-date clip directories.
func (c *Config) ClipsRoot() string {
	return filepath.Join(c.StreamDir(), c.ClipsDir)
}

// LogsDir holds kanyo.log and its rotated siblings.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StreamDir(), "logs")
}
