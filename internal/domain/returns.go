package domain

// ReturnCondition is the per-unit condition recorded when equipment comes back.
type ReturnCondition string

const (
	ConditionGood        ReturnCondition = "good"
	ConditionMinorDamage ReturnCondition = "minor_damage"
	ConditionDamaged     ReturnCondition = "damaged"
	ConditionLost        ReturnCondition = "lost"
)

func (c ReturnCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionMinorDamage, ConditionDamaged, ConditionLost:
		return true
	}
	return false
}

// ResultingStatus maps the condition onto the unit status it produces.
func (c ReturnCondition) ResultingStatus() UnitStatus {
	switch c {
	case ConditionMinorDamage:
		return UnitStatusDamaged
	case ConditionDamaged:
		return UnitStatusRepairing
	case ConditionLost:
		return UnitStatusDisposed
	default:
		return UnitStatusReturned
	}
}

func (c ReturnCondition) IsDamage() bool {
	return c != ConditionGood
}

// Severity is empty for good returns.
func (c ReturnCondition) Severity() DamageSeverity {
	switch c {
	case ConditionMinorDamage:
		return SeverityMinor
	case ConditionDamaged, ConditionLost:
		return SeveritySevere
	}
	return ""
}

var conditionLabels = map[ReturnCondition]string{
	ConditionGood:        "Good",
	ConditionMinorDamage: "Minor Damage",
	ConditionDamaged:     "Damaged",
	ConditionLost:        "Lost",
}

func (c ReturnCondition) Label() string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return string(c)
}
