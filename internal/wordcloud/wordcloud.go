// Package wordcloud computes word frequencies over cleaned proposition text.
package wordcloud

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/legis-enrich/internal/model"
)

// Build returns the most frequent non-stopword words of text, highest count
// first and alphabetical among ties. limit <= 0 returns every word.
func Build(text string, limit int) []model.WordCount {
	counts := make(map[string]int)
	for _, w := range Tokenize(text) {
		if len([]rune(w)) < 2 || IsStopword(w) || isNumeric(w) {
			continue
		}
		counts[w]++
	}

	out := make([]model.WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, model.WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Tokenize lowercases text, drops punctuation, and splits on whitespace.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// IsStopword reports whether w is a Portuguese stopword. w must be lowercase.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

var stopwords = func() map[string]struct{} {
	m := make(map[string]struct{}, len(stopwordList))
	for _, w := range strings.Fields(stopwordList) {
		m[w] = struct{}{}
	}
	return m
}()

const stopwordList = `
a à ao aos aquela aquelas aquele aqueles aquilo as às até com como da das de dela delas dele deles
depois do dos e é ela elas ele eles em entre era eram éramos essa essas esse esses esta está estamos
estão estar estas estava estavam estávamos este esteja estejam estejamos estes esteve estive
estivemos estiver estivera estiveram estivéramos estiverem estivermos estivesse estivessem
estivéssemos estou eu foi fomos for fora foram fôramos forem formos fosse fossem fôssemos fui há
haja hajam hajamos hão havemos haver hei houve houvemos houver houvera houverá houveram houvéramos
houverão houverei houverem houveremos houveria houveriam houveríamos houvermos houvesse houvessem
houvéssemos isso isto já lhe lhes mais mas me mesmo meu meus minha minhas muito na não nas nem no
nos nós nossa nossas nosso nossos num numa o os ou para pela pelas pelo pelos por qual quando que
quem são se seja sejam sejamos sem ser será serão serei seremos seria seriam seríamos seu seus só
somos sou sua suas também te tem tém temos tenha tenham tenhamos tenho terá terão terei teremos
teria teriam teríamos teu teus teve tinha tinham tínhamos tive tivemos tiver tivera tiveram
tivéramos tiverem tivermos tivesse tivessem tivéssemos tu tua tuas um uma você vocês vos
`
