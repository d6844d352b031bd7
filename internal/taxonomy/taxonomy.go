// Package taxonomy реализует статическую классификацию переменных датчиков:
// группы, канонические имена, категориальные домены и пороги скачков.
package taxonomy

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Group группа переменной
type Group string

const (
	GroupVibration    Group = "vibration"
	GroupPhysical     Group = "physical"
	GroupCategorical  Group = "categorical"
	GroupAccumulative Group = "accumulative"
	GroupUnknown      Group = "unknown"
)

// Groups все группы в фиксированном порядке
var Groups = []Group{GroupVibration, GroupPhysical, GroupCategorical, GroupAccumulative, GroupUnknown}

// Continuous возвращает true для непрерывных групп (vibration, physical)
func (g Group) Continuous() bool {
	return g == GroupVibration || g == GroupPhysical
}

// NonNegative возвращает true для групп, где значение обязано быть >= 0
func (g Group) NonNegative() bool {
	return g == GroupVibration || g == GroupPhysical || g == GroupAccumulative
}

//go:embed defaults.yaml
var defaultTables []byte

// Tables YAML-представление таблиц классификации
type Tables struct {
	Groups         map[Group][]string `yaml:"groups"`
	Canonical      map[string]string  `yaml:"canonical"`
	Domains        map[string][]int   `yaml:"domains"`
	JumpThresholds map[string]float64 `yaml:"jump_thresholds"`
	NoiseBaselines map[string]float64 `yaml:"noise_baselines"`
}

// Taxonomy неизменяемый объект конфигурации переменных.
// Передается явно в каждый детектор, глобального состояния нет.
type Taxonomy struct {
	groups         map[string]Group
	canonical      map[string]string
	rawNames       map[string]string
	domains        map[string]map[int]struct{}
	jumpThresholds map[string]float64
	noiseBaselines map[string]float64
}

// New строит Taxonomy из таблиц. Переменная, указанная в двух группах, - ошибка конфигурации.
func New(t Tables) (*Taxonomy, error) {
	tax := &Taxonomy{
		groups:         make(map[string]Group),
		canonical:      make(map[string]string, len(t.Canonical)),
		rawNames:       make(map[string]string, len(t.Canonical)),
		domains:        make(map[string]map[int]struct{}, len(t.Domains)),
		jumpThresholds: make(map[string]float64, len(t.JumpThresholds)),
		noiseBaselines: make(map[string]float64, len(t.NoiseBaselines)),
	}

	for group, names := range t.Groups {
		switch group {
		case GroupVibration, GroupPhysical, GroupCategorical, GroupAccumulative:
		default:
			return nil, fmt.Errorf("unknown variable group %q", group)
		}
		for _, name := range names {
			if prev, ok := tax.groups[name]; ok && prev != group {
				return nil, fmt.Errorf("variable %q declared in groups %s and %s", name, prev, group)
			}
			tax.groups[name] = group
		}
	}

	for raw, canon := range t.Canonical {
		if other, ok := tax.rawNames[canon]; ok && other != raw {
			return nil, fmt.Errorf("canonical name %q used by %q and %q", canon, other, raw)
		}
		tax.canonical[raw] = canon
		tax.rawNames[canon] = raw
	}
	for name, values := range t.Domains {
		set := make(map[int]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		tax.domains[name] = set
	}
	for name, v := range t.JumpThresholds {
		if v <= 0 {
			return nil, fmt.Errorf("jump threshold for %q must be positive, got %v", name, v)
		}
		tax.jumpThresholds[name] = v
	}
	for name, v := range t.NoiseBaselines {
		tax.noiseBaselines[name] = v
	}

	return tax, nil
}

// Load читает таблицы в формате YAML
func Load(r io.Reader) (*Taxonomy, error) {
	var t Tables
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	return New(t)
}

// LoadFile читает таблицы из файла
func LoadFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default возвращает встроенные таблицы
func Default() *Taxonomy {
	var t Tables
	if err := yaml.Unmarshal(defaultTables, &t); err != nil {
		panic(fmt.Sprintf("taxonomy: embedded defaults are broken: %v", err))
	}
	tax, err := New(t)
	if err != nil {
		panic(fmt.Sprintf("taxonomy: embedded defaults are broken: %v", err))
	}
	return tax
}

// GroupOf возвращает группу переменной или GroupUnknown
func (t *Taxonomy) GroupOf(variable string) Group {
	if g, ok := t.groups[variable]; ok {
		return g
	}
	return GroupUnknown
}

// Canonical возвращает каноническое имя; неизвестное имя возвращается как есть
func (t *Taxonomy) Canonical(variable string) string {
	if c, ok := t.canonical[variable]; ok {
		return c
	}
	return variable
}

// Domain возвращает допустимое множество значений категориальной переменной
func (t *Taxonomy) Domain(variable string) (map[int]struct{}, bool) {
	d, ok := t.domains[variable]
	return d, ok
}

// JumpThreshold возвращает допустимое изменение за один шаг
func (t *Taxonomy) JumpThreshold(variable string) (float64, bool) {
	v, ok := t.jumpThresholds[variable]
	return v, ok
}

// NoiseBaseline возвращает заданное эталонное стандартное отклонение
func (t *Taxonomy) NoiseBaseline(variable string) (float64, bool) {
	v, ok := t.noiseBaselines[variable]
	return v, ok && v > 0
}

// Variables возвращает отсортированный список переменных группы
func (t *Taxonomy) Variables(g Group) []string {
	var out []string
	for name, group := range t.groups {
		if group == g {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
