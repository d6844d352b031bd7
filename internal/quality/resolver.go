package quality

// Rule пара (предикат, код) таблицы приоритетов
type Rule struct {
	Flag Flag
	Code Code
}

// Priority иерархия серьезности по убыванию: первый сработавший флаг определяет код.
// Порядок - контракт для всех потребителей; его изменение меняет семантику фильтрации.
var Priority = []Rule{
	{FlagInvalidMonotonic, CodeCounterIntegrity},
	{FlagInvalidPhysical, CodeImpossible},
	{FlagExcessiveJump, CodeExcessiveJump},
	{FlagStuckValue, CodeStuck},
	{FlagInvalidCategory, CodeInvalidCategory},
	{FlagOutlier, CodeExtreme},
	{FlagHigh, CodeExtreme},
	{FlagGap, CodeGap},
	{FlagMissing, CodeMissing},
	{FlagExcessiveNoise, CodeExcessiveNoise},
	{FlagError, CodeUnclassified},
}

// Resolve возвращает единственный код качества для набора флагов
func Resolve(f FlagSet) Code {
	for _, r := range Priority {
		if f.Has(r.Flag) {
			return r.Code
		}
	}
	return CodeOK
}
