// Package async holds the single in-flight task combinator shared by every
// externally invoked entry point of the player.
package async

import "golang.org/x/sync/singleflight"

// Gate deduplicates overlapping calls to the same logical operation: a call
// made while another with the same key is still running receives that call's
// result instead of starting a second run. Once a call finishes, the next
// one starts fresh.
type Gate struct {
	group singleflight.Group
}

// Do runs fn under the key, or joins the in-flight run for that key.
func (g *Gate) Do(key string, fn func() error) error {
	_, err, _ := g.group.Do(key, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
