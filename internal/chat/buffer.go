package chat

// TranscriptLength is the number of recent messages retained per session.
const TranscriptLength = 5

// Line is a single relayed message kept as report evidence.
type Line struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"` // unix milliseconds
}

// Transcripts keeps the last TranscriptLength lines of every active session
// in fixed-size rings. It is not safe for concurrent use.
type Transcripts struct {
	rings map[string]*ring
}

type ring struct {
	items [TranscriptLength]Line
	pos   int
	count int
}

func NewTranscripts() *Transcripts {
	return &Transcripts{rings: make(map[string]*ring)}
}

// Add appends a line, overwriting the oldest one once the ring is full.
func (t *Transcripts) Add(sessionID string, l Line) {
	r, ok := t.rings[sessionID]
	if !ok {
		r = &ring{}
		t.rings[sessionID] = r
	}
	r.items[r.pos] = l
	r.pos = (r.pos + 1) % TranscriptLength
	if r.count < TranscriptLength {
		r.count++
	}
}

// Get returns the retained lines oldest first, or an empty slice.
func (t *Transcripts) Get(sessionID string) []Line {
	r, ok := t.rings[sessionID]
	if !ok {
		return []Line{}
	}
	out := make([]Line, r.count)
	start := (r.pos - r.count + TranscriptLength) % TranscriptLength
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%TranscriptLength]
	}
	return out
}

func (t *Transcripts) Remove(sessionID string) {
	delete(t.rings, sessionID)
}

func (t *Transcripts) Len() int {
	return len(t.rings)
}
