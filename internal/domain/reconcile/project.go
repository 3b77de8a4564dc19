package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/sessionscribe/internal/domain/transcript"
	"github.com/forPelevin/sessionscribe/internal/ports"
	"github.com/forPelevin/sessionscribe/internal/types"
)

// Project is the mutable editing state of one package. Segments live in a
// stable arena addressed by id; every mutation runs under a single writer lock.
type Project struct {
	mu       sync.Mutex
	segs     []types.Segment
	index    map[string]int
	slides   []types.Slide
	speakers []types.SpeakerEntry
	tickets  map[string]Ticket

	realigner ports.Realigner
	opts      Options
	timeout   time.Duration
	now       func() time.Time
}

// State is a deep copy of a project's segments, slides and speakers.
type State struct {
	Segments []types.Segment
	Slides   []types.Slide
	Speakers []types.SpeakerEntry
}

// Ticket identifies an outstanding realignment request.
type Ticket struct {
	ID        string
	SegmentID string
	Revision  int
	Text      string
	Window    types.TimeWindow
	IssuedAt  time.Time
}

type EditRequest struct {
	SegmentID string
	Revision  int
	Text      string
}

type EditResult struct {
	Segment         types.Segment
	ChangedFraction float64
	Realigned       bool
	// Adjusted lists neighbour segment ids whose boundary was clamped.
	Adjusted []string
}

// NewProject copies st into a new project. realigner may be nil, in which case
// edits that need realignment fail.
func NewProject(st State, realigner ports.Realigner, opts Options, timeout time.Duration) (*Project, error) {
	p := &Project{
		index:     make(map[string]int, len(st.Segments)),
		tickets:   map[string]Ticket{},
		realigner: realigner,
		opts:      opts.withDefaults(),
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	cp := copyState(st)
	for i, s := range cp.Segments {
		if _, dup := p.index[s.ID]; dup {
			return nil, &types.DataIntegrityError{Stream: "segments", Index: i, Reason: "duplicate id " + s.ID}
		}
		if i > 0 && s.Start < cp.Segments[i-1].End {
			return nil, &types.DataIntegrityError{Stream: "segments", Index: i, Reason: "overlaps previous segment"}
		}
		cp.Segments[i].Pending = false
		p.index[s.ID] = i
	}
	p.segs, p.slides, p.speakers = cp.Segments, cp.Slides, cp.Speakers
	return p, nil
}

func (p *Project) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(State{Segments: p.segs, Slides: p.slides, Speakers: p.speakers})
}

func (p *Project) Segment(id string) (types.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[id]
	if !ok {
		return types.Segment{}, fmt.Errorf("%w: %s", types.ErrUnknownSegment, id)
	}
	return copySegment(p.segs[i]), nil
}

// Edit replaces a segment's text. Small edits are remapped in place; larger
// ones are realigned synchronously through the realigner.
func (p *Project) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	p.mu.Lock()
	i, err := p.lookup(req.SegmentID, req.Revision)
	if err != nil {
		p.mu.Unlock()
		return EditResult{}, err
	}
	plan, err := PlanEdit(p.segs[i], req.Text, p.opts)
	if err != nil {
		p.mu.Unlock()
		return EditResult{}, err
	}
	if plan.Fast {
		seg := &p.segs[i]
		p.commit(seg, plan.Text, plan.Words)
		res := EditResult{Segment: copySegment(*seg), ChangedFraction: plan.ChangedFraction}
		p.mu.Unlock()
		return res, nil
	}
	t := p.issue(i, plan.Text)
	p.mu.Unlock()

	words, err := p.Realign(ctx, t)
	if err != nil {
		_ = p.Cancel(t.ID)
		return EditResult{}, err
	}
	res, err := p.Apply(t, words)
	res.ChangedFraction = plan.ChangedFraction
	return res, err
}

// Submit marks a segment as pending realignment and returns the ticket the
// caller later passes to Realign and Apply.
func (p *Project) Submit(req EditRequest) (Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, err := p.lookup(req.SegmentID, req.Revision)
	if err != nil {
		return Ticket{}, err
	}
	plan, err := PlanEdit(p.segs[i], req.Text, p.opts)
	if err != nil {
		return Ticket{}, err
	}
	return p.issue(i, plan.Text), nil
}

// Realign runs the realigner for t without holding the project lock.
func (p *Project) Realign(ctx context.Context, t Ticket) ([]types.Word, error) {
	if p.realigner == nil {
		return nil, &types.CollaboratorFailure{Collaborator: "realigner", Op: "realign", Err: fmt.Errorf("no realigner configured")}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	words, err := p.realigner.Realign(ctx, t.Text, t.Window)
	if err != nil {
		return nil, &types.CollaboratorFailure{Collaborator: "realigner", Op: "realign " + t.SegmentID, Err: err}
	}
	return words, nil
}

// Apply commits realigned words for t when the segment has not changed since
// the ticket was issued.
func (p *Project) Apply(t Ticket, words []types.Word) (EditResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.tickets[t.ID]
	if !ok {
		return EditResult{}, types.ErrUnknownTicket
	}
	p.dropTicket(t.ID)
	t = stored

	i, ok := p.index[t.SegmentID]
	if !ok {
		return EditResult{}, fmt.Errorf("%w: %s", types.ErrUnknownSegment, t.SegmentID)
	}
	if p.segs[i].Revision != t.Revision {
		return EditResult{}, fmt.Errorf("%w: %s is at revision %d, ticket has %d",
			types.ErrStaleRevision, t.SegmentID, p.segs[i].Revision, t.Revision)
	}
	if len(words) == 0 {
		return EditResult{}, &types.CollaboratorFailure{Collaborator: "realigner", Op: "realign " + t.SegmentID, Err: fmt.Errorf("no words returned")}
	}
	if err := transcript.CheckWords(words); err != nil {
		return EditResult{}, &types.CollaboratorFailure{Collaborator: "realigner", Op: "realign " + t.SegmentID, Err: err}
	}

	start, end := words[0].Start, words[len(words)-1].End
	var prev, next *types.Segment
	if i > 0 {
		c, err := clampBefore(p.segs[i-1], start, t.SegmentID)
		if err != nil {
			return EditResult{}, err
		}
		prev = c
	}
	if i < len(p.segs)-1 {
		c, err := clampAfter(p.segs[i+1], end, t.SegmentID)
		if err != nil {
			return EditResult{}, err
		}
		next = c
	}
	// Trimming both neighbours at once is rejected even when neither inverts.
	if prev != nil && next != nil {
		return EditResult{}, &types.BoundaryConflictError{
			SegmentID: t.SegmentID,
			Reason:    "realigned words overlap both neighbours",
		}
	}

	res := EditResult{Realigned: true}
	for _, n := range []*types.Segment{prev, next} {
		if n == nil {
			continue
		}
		n.Revision++
		p.segs[p.index[n.ID]] = *n
		res.Adjusted = append(res.Adjusted, n.ID)
	}
	seg := &p.segs[i]
	p.commit(seg, t.Text, slices.Clone(words))
	res.Segment = copySegment(*seg)
	return res, nil
}

// Cancel discards an outstanding ticket.
func (p *Project) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tickets[id]; !ok {
		return types.ErrUnknownTicket
	}
	p.dropTicket(id)
	return nil
}

// SetSpeaker reassigns a segment to another speaker label.
func (p *Project) SetSpeaker(id string, revision int, label string) (types.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, err := p.lookup(id, revision)
	if err != nil {
		return types.Segment{}, err
	}
	if label == "" {
		return types.Segment{}, fmt.Errorf("%w: empty label", types.ErrUnknownSpeaker)
	}
	if !slices.ContainsFunc(p.speakers, func(e types.SpeakerEntry) bool { return e.Label == label }) {
		p.speakers = append(p.speakers, types.SpeakerEntry{Label: label, Method: types.MethodManual})
	}
	seg := &p.segs[i]
	p.record(seg)
	seg.SpeakerLabel = label
	seg.Revision++
	seg.Pending = false
	return copySegment(*seg), nil
}

// RenameSpeaker attaches a display name to a speaker label.
func (p *Project) RenameSpeaker(label, displayName string) (types.SpeakerEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.speakers {
		if p.speakers[i].Label == label {
			p.speakers[i].DisplayName = displayName
			p.speakers[i].Method = types.MethodManual
			return p.speakers[i], nil
		}
	}
	return types.SpeakerEntry{}, fmt.Errorf("%w: %s", types.ErrUnknownSpeaker, label)
}

// UpdateSlide applies fn to the slide with the given index if its revision matches.
func (p *Project) UpdateSlide(index, revision int, fn func(*types.Slide)) (types.Slide, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slides {
		s := &p.slides[i]
		if s.Index != index {
			continue
		}
		if s.Revision != revision {
			return types.Slide{}, fmt.Errorf("%w: slide %d is at revision %d", types.ErrStaleRevision, index, s.Revision)
		}
		fn(s)
		s.Index = index
		s.Revision = revision + 1
		return copySlide(*s), nil
	}
	return types.Slide{}, fmt.Errorf("%w: %d", types.ErrUnknownSlide, index)
}

func (p *Project) lookup(id string, revision int) (int, error) {
	i, ok := p.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrUnknownSegment, id)
	}
	if p.segs[i].Revision != revision {
		return 0, fmt.Errorf("%w: %s is at revision %d, request has %d",
			types.ErrStaleRevision, id, p.segs[i].Revision, revision)
	}
	return i, nil
}

func (p *Project) issue(i int, text string) Ticket {
	seg := &p.segs[i]
	t := Ticket{
		ID:        uuid.NewString(),
		SegmentID: seg.ID,
		Revision:  seg.Revision,
		Text:      text,
		Window:    types.TimeWindow{Start: seg.Start, End: seg.End},
		IssuedAt:  p.now(),
	}
	p.tickets[t.ID] = t
	seg.Pending = true
	return t
}

func (p *Project) dropTicket(id string) {
	t := p.tickets[id]
	delete(p.tickets, id)
	for _, o := range p.tickets {
		if o.SegmentID == t.SegmentID {
			return
		}
	}
	if i, ok := p.index[t.SegmentID]; ok {
		p.segs[i].Pending = false
	}
}

func (p *Project) record(seg *types.Segment) {
	seg.History = append(seg.History, types.EditEntry{Revision: seg.Revision, Text: seg.Text, At: p.now()})
}

func (p *Project) commit(seg *types.Segment, text string, words []types.Word) {
	p.record(seg)
	seg.Text = text
	seg.Words = words
	seg.Start = words[0].Start
	seg.End = words[len(words)-1].End
	seg.Edited = true
	seg.Revision++
	seg.Pending = false
}

// clampBefore trims prev so it ends no later than start.
func clampBefore(prev types.Segment, start float64, id string) (*types.Segment, error) {
	if prev.End <= start {
		return nil, nil
	}
	if start <= prev.Start {
		return nil, &types.BoundaryConflictError{SegmentID: id, NeighborID: prev.ID, Reason: "previous segment would invert"}
	}
	seg := copySegment(prev)
	seg.End = start
	for k := len(seg.Words) - 1; k >= 0 && seg.Words[k].End > start; k-- {
		if seg.Words[k].Start >= start {
			return nil, &types.BoundaryConflictError{SegmentID: id, NeighborID: prev.ID, Reason: "word " + seg.Words[k].Text + " would invert"}
		}
		seg.Words[k].End = start
	}
	return &seg, nil
}

// clampAfter trims next so it starts no earlier than end.
func clampAfter(next types.Segment, end float64, id string) (*types.Segment, error) {
	if next.Start >= end {
		return nil, nil
	}
	if end >= next.End {
		return nil, &types.BoundaryConflictError{SegmentID: id, NeighborID: next.ID, Reason: "next segment would invert"}
	}
	seg := copySegment(next)
	seg.Start = end
	for k := 0; k < len(seg.Words) && seg.Words[k].Start < end; k++ {
		if seg.Words[k].End <= end {
			return nil, &types.BoundaryConflictError{SegmentID: id, NeighborID: next.ID, Reason: "word " + seg.Words[k].Text + " would invert"}
		}
		seg.Words[k].Start = end
	}
	return &seg, nil
}

func copySegment(s types.Segment) types.Segment {
	s.Words = slices.Clone(s.Words)
	s.History = slices.Clone(s.History)
	return s
}

func copyState(st State) State {
	out := State{
		Segments: make([]types.Segment, len(st.Segments)),
		Slides:   make([]types.Slide, len(st.Slides)),
		Speakers: slices.Clone(st.Speakers),
	}
	for i, s := range st.Segments {
		out.Segments[i] = copySegment(s)
	}
	for i, s := range st.Slides {
		out.Slides[i] = copySlide(s)
	}
	if out.Speakers == nil {
		out.Speakers = []types.SpeakerEntry{}
	}
	return out
}

func copySlide(s types.Slide) types.Slide {
	s.Bullets = slices.Clone(s.Bullets)
	if s.CropRect != nil {
		r := *s.CropRect
		s.CropRect = &r
	}
	if s.OCR != nil {
		o := *s.OCR
		o.Blocks = slices.Clone(o.Blocks)
		s.OCR = &o
	}
	if s.Description != nil {
		d := *s.Description
		s.Description = &d
	}
	return s
}
