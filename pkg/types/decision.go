package types

import "errors"

// Action is what the indexer intends to do with one artifact or source
type Action string

const (
	ActionSkip                      Action = "skip"
	ActionAnalyzeFile               Action = "analyzeFile"
	ActionRebuildDirectoryKnowledge Action = "rebuildDirectoryKnowledge"
	ActionDeleteOrphan              Action = "deleteOrphan"
)

// Decision is the verdict for one KnowledgeFile or one source that has no artifact yet
type Decision struct {
	Action      Action
	File        *KnowledgeFile // Nil for sources without an artifact
	SourcePath  string
	IsDir       bool
	HandlerType string
	UnitRoot    string
	Reason      string
}

// RequiresWork reports whether the decision produces a generation task
func (d Decision) RequiresWork() bool {
	return d.Action == ActionAnalyzeFile || d.Action == ActionRebuildDirectoryKnowledge
}

// ArtifactPath returns the existing artifact path, if any
func (d Decision) ArtifactPath() string {
	if d.File == nil {
		return ""
	}
	return d.File.Path
}

// Validate checks that the decision carries an action, a subject, and a reason
func (d Decision) Validate() error {
	switch d.Action {
	case ActionSkip, ActionAnalyzeFile, ActionRebuildDirectoryKnowledge, ActionDeleteOrphan:
	default:
		return errors.New("invalid action")
	}
	if d.Reason == "" {
		return ErrMissingReason
	}
	if d.Action == ActionDeleteOrphan && d.File == nil {
		return errors.New("orphan deletion requires an artifact")
	}
	if d.Action != ActionDeleteOrphan && d.SourcePath == "" {
		return errors.New("source path is required")
	}
	return nil
}
