package wedge

import "sort"

// Rule pairs a predicate over the finalized code with the action it triggers.
type Rule struct {
	Name   string
	Action Action
	Match  func(code string) bool
	apply  func(c *Controller, b *Burst)
}

// buildRules turns the control-code set into the ordered rule list:
// flag codes, then submit codes, then the generic value rule, then the
// empty-burst rule. A control code therefore never lands in a field.
func buildRules(codes []ControlCode) []Rule {
	ordered := append([]ControlCode(nil), codes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return actionPriority(ordered[i].Action) < actionPriority(ordered[j].Action)
	})

	rules := make([]Rule, 0, len(ordered)+2)
	for _, cc := range ordered {
		cc := cc
		r := Rule{
			Name:   cc.Action.String() + ":" + cc.Code,
			Action: cc.Action,
			Match:  cc.matches,
		}
		switch cc.Action {
		case ActionFlag:
			r.apply = (*Controller).applyFlag
		case ActionSubmit:
			r.apply = (*Controller).applySubmit
		default:
			continue
		}
		rules = append(rules, r)
	}

	rules = append(rules,
		Rule{
			Name:   "value",
			Action: ActionValue,
			Match:  func(code string) bool { return code != "" },
			apply:  (*Controller).applyValue,
		},
		Rule{
			Name:   "empty",
			Action: ActionNone,
			Match:  func(string) bool { return true },
			apply:  func(*Controller, *Burst) {},
		},
	)
	return rules
}

func actionPriority(a Action) int {
	switch a {
	case ActionFlag:
		return 0
	case ActionSubmit:
		return 1
	default:
		return 2
	}
}
