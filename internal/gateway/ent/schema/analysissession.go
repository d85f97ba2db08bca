package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// AnalysisSession holds the schema definition for one analysis run.
type AnalysisSession struct {
	ent.Schema
}

// Fields of the AnalysisSession.
func (AnalysisSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.Int("generation").
			Default(1),
		field.String("analysis_mode").
			Default(""),
		field.JSON("input", map[string]any{}),
		field.Bool("enrichment_enabled").
			Default(true),
		field.String("status").
			Default("pending"),
		field.String("current_stage").
			Default(""),
		field.Bool("completed").
			Default(false),
		field.String("fail_reason").
			Default(""),
		field.Bool("skip_to_final").
			Default(false),
		field.String("skip_reason").
			Default(""),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("expires_at"),
	}
}

// Edges of the AnalysisSession.
func (AnalysisSession) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("stage_results", StageResult.Type),
	}
}
