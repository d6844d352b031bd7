// Package quality сводит набор флагов измерения к одному коду качества
// по фиксированной иерархии серьезности.
package quality

import "sort"

// Code индикатор качества измерения
type Code int

const (
	CodeOK               Code = 0
	CodeMissing          Code = 1
	CodeGap              Code = 2
	CodeExtreme          Code = 3
	CodeInvalidCategory  Code = 4
	CodeImpossible       Code = 5
	CodeCounterIntegrity Code = 6
	CodeStuck            Code = 7
	CodeExcessiveJump    Code = 8
	CodeUnclassified     Code = 9
	CodeExcessiveNoise   Code = 10
)

// labels закрытая таблица меток, общая для всех потребителей отчетов и выгрузок
var labels = map[Code]string{
	CodeOK:               "OK",
	CodeMissing:          "Missing value",
	CodeGap:              "Temporal gap",
	CodeExtreme:          "Extreme value",
	CodeInvalidCategory:  "Invalid category",
	CodeImpossible:       "Impossible value",
	CodeCounterIntegrity: "Counter integrity error",
	CodeStuck:            "Stuck value",
	CodeExcessiveJump:    "Excessive jump",
	CodeUnclassified:     "Unclassified error",
	CodeExcessiveNoise:   "Excessive noise",
}

// Label возвращает человекочитаемую метку кода
func (c Code) Label() string {
	if l, ok := labels[c]; ok {
		return l
	}
	return "Unknown"
}

// Valid проверяет принадлежность кода закрытой таблице
func (c Code) Valid() bool {
	_, ok := labels[c]
	return ok
}

// CodeInfo элемент таблицы кодов
type CodeInfo struct {
	Code  Code   `json:"code"`
	Label string `json:"label"`
}

// Codes возвращает таблицу кодов по возрастанию
func Codes() []CodeInfo {
	out := make([]CodeInfo, 0, len(labels))
	for c, l := range labels {
		out = append(out, CodeInfo{Code: c, Label: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
