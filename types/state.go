package types

// ConsensusStateData is the serializable snapshot of the consensus state
// machine, persisted by the durability layer as a single overwritten
// record on every finalized sequence. Phase carries the engine's phase
// constant as a raw byte so this package stays free of engine imports.
type ConsensusStateData struct {
	Validators    []Validator `cramberry:"1"`
	Height        uint64      `cramberry:"2"`
	Round         uint32      `cramberry:"3"`
	Phase         uint8       `cramberry:"4"`
	Proposal      *Proposal   `cramberry:"5"`
	Votes         []Vote      `cramberry:"6"`
	LeaderIndex   uint32      `cramberry:"7"`
	RoundDeadline int64       `cramberry:"8"`
}
