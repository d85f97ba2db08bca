package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StageResult holds the schema definition for one committed stage slot.
type StageResult struct {
	ent.Schema
}

// Fields of the StageResult.
func (StageResult) Fields() []ent.Field {
	return []ent.Field{
		field.String("session_id"),
		field.String("stage"),
		field.JSON("payload", map[string]any{}),
		field.Bool("committed").
			Default(false),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the StageResult.
func (StageResult) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", AnalysisSession.Type).
			Ref("stage_results").
			Field("session_id").
			Unique().
			Required(),
	}
}

// Indexes of the StageResult.
func (StageResult) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "stage").
			Unique(),
	}
}
