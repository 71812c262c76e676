package enrich

import (
	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// classifyToolName is the tool the classifier forces the model to call.
const classifyToolName = "record_topics"

func toolName(kind model.ExtractionKind) string {
	return "record_" + string(kind)
}

func enumOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// extractionTool returns the forced tool whose input schema is the output
// contract of kind. The schema guides generation; DecodePayload is what
// decides validity.
func extractionTool(kind model.ExtractionKind) anthropic.Tool {
	t := anthropic.Tool{Name: toolName(kind)}
	switch kind {
	case model.KindSummary:
		t.Description = "Registra o resumo e o tema principal da proposição."
		t.Properties = map[string]any{
			"summary":    map[string]any{"type": "string", "description": "Resumo em no máximo 50 palavras."},
			"main_theme": map[string]any{"type": "string", "description": "Tema principal em no máximo 10 palavras."},
		}
		t.Required = []string{"summary", "main_theme"}
	case model.KindSentiment:
		t.Description = "Registra o sentimento do texto da proposição."
		t.Properties = map[string]any{
			"sentiment": map[string]any{"type": "string", "enum": enumOf(model.Sentiments())},
			"rationale": map[string]any{"type": "string"},
		}
		t.Required = []string{"sentiment"}
	case model.KindIdeology:
		t.Description = "Registra a orientação ideológica da proposição."
		t.Properties = map[string]any{
			"ideology":  map[string]any{"type": "string", "enum": enumOf(model.Ideologies())},
			"rationale": map[string]any{"type": "string"},
		}
		t.Required = []string{"ideology"}
	case model.KindNamedEntities:
		t.Description = "Registra as entidades nomeadas citadas na proposição."
		t.Properties = map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":  map[string]any{"type": "string", "enum": enumOf(model.EntityTypes())},
						"value": map[string]any{"type": "string"},
					},
					"required": []string{"type", "value"},
				},
			},
		}
		t.Required = []string{"entities"}
	}
	return t
}

// classifyTool returns the forced tool for topic classification.
func classifyTool(labels []string, maxTopics int) anthropic.Tool {
	return anthropic.Tool{
		Name:        classifyToolName,
		Description: "Registra os tópicos da proposição em ordem de relevância.",
		Properties: map[string]any{
			"topics": map[string]any{
				"type":     "array",
				"maxItems": maxTopics,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"label":      map[string]any{"type": "string", "enum": labels},
						"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required": []string{"label"},
				},
			},
		},
		Required: []string{"topics"},
	}
}
