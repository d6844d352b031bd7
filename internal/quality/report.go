package quality

import "strconv"

// CodeCount количество измерений с кодом
type CodeCount struct {
	Code    Code    `json:"code"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// FlagCount количество измерений с флагом
type FlagCount struct {
	Flag    Flag    `json:"flag"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Report сводка качества по развертыванию
type Report struct {
	Total int         `json:"total"`
	Codes []CodeCount `json:"codes"`
	Flags []FlagCount `json:"flags"`
}

// Tally накопитель отчета
type Tally struct {
	total int
	codes map[Code]int
	flags map[Flag]int
}

// NewTally создает пустой накопитель
func NewTally() *Tally {
	return &Tally{
		codes: make(map[Code]int),
		flags: make(map[Flag]int),
	}
}

// Add учитывает одно измерение
func (t *Tally) Add(f FlagSet, c Code) {
	t.total++
	t.codes[c]++
	for _, flag := range AllFlags {
		if f.Has(flag) {
			t.flags[flag]++
		}
	}
}

// Report формирует отчет; коды без измерений опускаются
func (t *Tally) Report() Report {
	r := Report{Total: t.total}
	for _, info := range Codes() {
		n := t.codes[info.Code]
		if n == 0 {
			continue
		}
		r.Codes = append(r.Codes, CodeCount{
			Code:    info.Code,
			Label:   info.Label,
			Count:   n,
			Percent: percent(n, t.total),
		})
	}
	for _, flag := range AllFlags {
		n := t.flags[flag]
		r.Flags = append(r.Flags, FlagCount{Flag: flag, Count: n, Percent: percent(n, t.total)})
	}
	return r
}

// CountsByCode карта "код" -> количество для кэша и метрик
func (r Report) CountsByCode() map[string]int {
	out := make(map[string]int, len(r.Codes))
	for _, c := range r.Codes {
		out[strconv.Itoa(int(c.Code))] = c.Count
	}
	return out
}

// NonOK количество измерений с кодом, отличным от OK
func (r Report) NonOK() int {
	n := 0
	for _, c := range r.Codes {
		if c.Code != CodeOK {
			n += c.Count
		}
	}
	return n
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
