package psnap

// Metadata is the compiled pipeline metadata source. Profile identifies the
// program loaded on a group of pipes.
type Metadata interface {
	// NumStages returns the number of compiled stages for the profile.
	NumStages(dev DevID, profile int) (int, error)
	// FieldDictSize returns the number of dictionary entries of a compiled stage.
	FieldDictSize(dev DevID, profile, stage int, dir Direction) (int, error)
	// FieldDict returns the dictionary entries of a compiled stage.
	FieldDict(dev DevID, profile, stage int, dir Direction) ([]DictEntry, error)
	// MatchDependent reports whether the stage is match dependent on the
	// previous stage, which makes mocha containers usable as triggers.
	MatchDependent(dev DevID, profile, stage int, dir Direction) bool
	// StageTables lists the logical tables placed in a stage.
	StageTables(dev DevID, profile, stage int, dir Direction) []TableInfo
}

// TableIndex resolves table hit addresses to installed entries.
type TableIndex interface {
	HitAddrToEntry(dev DevID, table TableHandle, pipe PipeID, stage, logicalTable int, addr uint32) (EntryHandle, error)
}

// Session is the single mutual exclusion token held by every public
// operation for its whole duration.
type Session interface {
	Enter()
	Exit()
}
