package ir

// Step is one entry yielded by Representation.Walk: a Command, the Scope
// enclosing it, and any Labels placed immediately before it.
type Step struct {
	Command Command
	Scope   *Scope
	Labels  []*Label
}

// Representation is the IR container: an ordered Command stream, a label
// table, a flat scope list, and a record table.
type Representation struct {
	BlockName string

	Commands []Command
	cmdScope []int // Scopes index active when Commands[i] was emitted

	Labels     []*Label
	labelIndex map[string]LabelID
	labelSeq   map[string]int
	labelsAt   map[int][]LabelID // command index -> labels placed there

	Scopes []*Scope

	Records map[string]*Record
}

// New constructs an empty Representation for the given entry block name.
func New(blockName string) *Representation {
	return &Representation{
		BlockName:  blockName,
		labelIndex: map[string]LabelID{},
		labelSeq:   map[string]int{},
		labelsAt:   map[int][]LabelID{},
		Records:    map[string]*Record{},
	}
}

// PushScope appends a new Scope parented at parent (-1 for none) and
// returns its index.
func (r *Representation) PushScope(name string, beginLine, parent int) int {
	r.Scopes = append(r.Scopes, newScope(name, beginLine, parent))
	return len(r.Scopes) - 1
}

// Emit appends cmd to the command stream, tagging it with the currently
// active scope index.
func (r *Representation) Emit(scopeIdx int, cmd Command) {
	r.Commands = append(r.Commands, cmd)
	r.cmdScope = append(r.cmdScope, scopeIdx)
}

// NewLabel allocates a fresh, uniquely-named, unplaced label. Name
// collisions are resolved by appending "_1" to whatever candidate is
// already taken — including a candidate that is itself already suffixed,
// so a busy basename can legitimately produce "foo_1_1".
func (r *Representation) NewLabel(base string) LabelID {
	name := base
	for {
		if _, exists := r.labelIndex[name]; !exists {
			break
		}
		name = name + "_1"
	}
	id := LabelID(len(r.Labels))
	r.Labels = append(r.Labels, &Label{Name: name, Position: -1})
	r.labelIndex[name] = id
	return id
}

// PlaceLabel fixes id's Position to the current end of the command stream
// (i.e. the index a jump to it will transfer control to).
func (r *Representation) PlaceLabel(id LabelID) {
	pos := len(r.Commands)
	r.Labels[id].Position = pos
	r.labelsAt[pos] = append(r.labelsAt[pos], id)
}

// LabelByID returns the Label for id.
func (r *Representation) LabelByID(id LabelID) *Label { return r.Labels[id] }

// CompactLabels merges labels that resolve to the same Position, rewriting
// every Command operand that referenced a removed label to the survivor
// (the first label placed at that position).
func (r *Representation) CompactLabels() {
	survivorAt := map[int]LabelID{}
	remap := make(map[LabelID]LabelID, len(r.Labels))
	var kept []*Label
	newIndex := map[string]LabelID{}

	for old, lbl := range r.Labels {
		oldID := LabelID(old)
		if surv, ok := survivorAt[lbl.Position]; ok {
			remap[oldID] = surv
			continue
		}
		newID := LabelID(len(kept))
		kept = append(kept, lbl)
		survivorAt[lbl.Position] = newID
		newIndex[lbl.Name] = newID
		remap[oldID] = newID
	}

	for i := range r.Commands {
		remapOperand(&r.Commands[i].Target, remap)
		remapOperand(&r.Commands[i].A, remap)
		remapOperand(&r.Commands[i].B, remap)
	}
	newLabelsAt := map[int][]LabelID{}
	for pos, ids := range r.labelsAt {
		seen := map[LabelID]bool{}
		for _, id := range ids {
			nid := remap[id]
			if !seen[nid] {
				seen[nid] = true
				newLabelsAt[pos] = append(newLabelsAt[pos], nid)
			}
		}
	}

	r.Labels = kept
	r.labelIndex = newIndex
	r.labelsAt = newLabelsAt
}

func remapOperand(op *Operand, remap map[LabelID]LabelID) {
	if op.Kind != OperandLabel {
		return
	}
	if nid, ok := remap[op.Label]; ok {
		op.Label = nid
	}
}

// Walk yields every (command, enclosing scope, labels-placed-here) step in
// command-stream order. A label placed at the very end of the stream (no
// following command) is not represented as a Step — see TrailingLabels.
func (r *Representation) Walk(fn func(Step)) {
	for i, cmd := range r.Commands {
		var labels []*Label
		for _, id := range r.labelsAt[i] {
			labels = append(labels, r.Labels[id])
		}
		fn(Step{Command: cmd, Scope: r.Scopes[r.cmdScope[i]], Labels: labels})
	}
}

// TrailingLabels returns labels placed at the very end of the command
// stream (position == len(Commands)), such as a final if_end that closes
// out the program with no further instructions.
func (r *Representation) TrailingLabels() []*Label {
	var labels []*Label
	for _, id := range r.labelsAt[len(r.Commands)] {
		labels = append(labels, r.Labels[id])
	}
	return labels
}
