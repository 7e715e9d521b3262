// Package chat implements the streaming chat core: incremental segment
// classification, tool-call accumulation, the live message state container,
// and the finalization state machine.
package chat

import (
	"strings"
	"time"
)

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// Classifier incrementally splits a model output stream into "thinking"
// and "reply" content using the single nesting-free <think>...</think>
// tag pair. It is a pure state machine with no I/O.
//
// Tag literals may be split across chunk boundaries: the classifier holds
// back at most len(tag)-1 trailing bytes that could still begin the tag it
// is currently looking for, and resolves them when the next chunk (or
// Flush) arrives. Classification is therefore independent of how the
// stream was chunked.
type Classifier struct {
	inThink bool

	opened      bool
	openedAt    time.Time
	durationSet bool
	duration    time.Duration

	// pending holds trailing bytes that may be the start of the tag the
	// scanner is currently looking for. Bounded by len(tag)-1.
	pending string

	think strings.Builder
	reply strings.Builder

	now func() time.Time
}

// NewClassifier returns a classifier in the outside-think state.
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// Feed appends a chunk of model output and classifies as much of it as can
// be decided without seeing more of the stream.
func (c *Classifier) Feed(chunk string) {
	if chunk == "" {
		return
	}
	data := c.pending + chunk
	c.pending = ""
	c.scan(data, false)
}

// Flush resolves all held-back bytes at stream end. Content still inside
// an unterminated think block stays classified as thinking, with the open
// tag already stripped; a partial tag literal is emitted as plain text.
// Flush also fixes the think duration if the close tag never arrived.
func (c *Classifier) Flush() {
	if c.pending != "" {
		data := c.pending
		c.pending = ""
		c.scan(data, true)
	}
	if c.opened && !c.durationSet {
		c.duration = c.now().Sub(c.openedAt)
		if c.duration < 0 {
			c.duration = 0
		}
		c.durationSet = true
	}
	c.inThink = false
}

func (c *Classifier) scan(data string, final bool) {
	for {
		tag := thinkOpenTag
		if c.inThink {
			tag = thinkCloseTag
		}

		i := strings.Index(data, tag)
		if i < 0 {
			keep := 0
			if !final {
				keep = partialTagLen(data, tag)
			}
			c.emit(data[:len(data)-keep])
			c.pending = data[len(data)-keep:]
			return
		}

		c.emit(data[:i])
		data = data[i+len(tag):]

		if c.inThink {
			c.inThink = false
			if !c.durationSet {
				c.duration = c.now().Sub(c.openedAt)
				if c.duration < 0 {
					c.duration = 0
				}
				c.durationSet = true
			}
		} else {
			c.inThink = true
			if !c.opened {
				c.opened = true
				c.openedAt = c.now()
			}
		}
	}
}

func (c *Classifier) emit(s string) {
	if s == "" {
		return
	}
	if c.inThink {
		c.think.WriteString(s)
	} else {
		c.reply.WriteString(s)
	}
}

// partialTagLen returns the length of the longest proper prefix of tag
// that is a suffix of data. Those bytes must be held back because the
// next chunk could complete the tag.
func partialTagLen(data, tag string) int {
	max := len(tag) - 1
	if max > len(data) {
		max = len(data)
	}
	for k := max; k > 0; k-- {
		if data[len(data)-k:] == tag[:k] {
			return k
		}
	}
	return 0
}

// Think returns the accumulated thinking content.
func (c *Classifier) Think() string { return c.think.String() }

// Reply returns the accumulated reply content.
func (c *Classifier) Reply() string { return c.reply.String() }

// IsThinking reports whether an open tag has been seen without its close.
func (c *Classifier) IsThinking() bool { return c.inThink }

// ThinkDuration returns the elapsed time between the first open tag and
// the first close tag (or Flush). Zero until one of those happened.
func (c *Classifier) ThinkDuration() time.Duration { return c.duration }
