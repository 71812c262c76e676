package enrich

import (
	"fmt"
	"strings"

	"github.com/sells-group/legis-enrich/internal/model"
)

const systemPreamble = `Você é um analista especializado em processo legislativo brasileiro e em processamento de linguagem natural.
Você recebe o inteiro teor de uma proposição da Câmara dos Deputados, já limpo de cabeçalhos e rodapés.
Responda sempre chamando a ferramenta indicada, sem texto adicional. Revise o conteúdo gerado e corrija se necessário.`

var kindInstructions = map[model.ExtractionKind]string{
	model.KindSummary: `Faça um resumo do texto em no máximo 50 palavras e identifique o tema principal em no máximo 10 palavras.`,
	model.KindSentiment: `Classifique o sentimento do texto em uma de 7 nuances:
extremely_negative, negative, negative_neutral, neutral, positive_neutral, positive, extremely_positive.
Justifique brevemente em rationale.`,
	model.KindIdeology: `Classifique a orientação ideológica da proposição em uma de 7 posições:
far_left, left, center_left, center, center_right, right, far_right.
Justifique brevemente em rationale.`,
	model.KindNamedEntities: `Faça o reconhecimento de entidades nomeadas (NER). Cada entidade tem um tipo
(person, organization, location, date, legislation, monetary_value, other) e o valor como aparece no texto.
Não repita entidades. Se não houver entidades, devolva uma lista vazia.`,
}

// systemPrompt is shared by every item of a kind so it can be cached.
func systemPrompt(kind model.ExtractionKind) string {
	return systemPreamble + "\n\nTarefa:\n" + kindInstructions[kind]
}

func userPrompt(text string) string {
	return "Texto da proposição:\n" + text
}

func classifySystemPrompt(labels []string, maxTopics int) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	fmt.Fprintf(&b, "\n\nTarefa:\nClassifique a proposição em até %d dos tópicos abaixo, do mais ao menos relevante.\n", maxTopics)
	b.WriteString("Use os rótulos exatamente como escritos e informe a confiança entre 0 e 1.\n\nTópicos:\n")
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}
