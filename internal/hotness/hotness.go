// Package hotness tracks query frequency per key (tables, cover cells)
// with decaying scores.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
