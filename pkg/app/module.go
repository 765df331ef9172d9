package app

// Activation wires a module into one context. It subscribes the module's
// handlers through a and performs one-time per-context setup.
type Activation func(a *Actions) error

// Module is a feature contributing behavior to one or more contexts. A nil
// activation means the module is inert in that context.
type Module struct {
	Name       string
	Background Activation
	Tab        Activation
	Popup      Activation
	Webview    Activation
}

// ActivationFor selects the activation of m for kind.
func ActivationFor(m Module, kind Kind) Activation {
	switch kind {
	case Background:
		return m.Background
	case Tab:
		return m.Tab
	case Popup:
		return m.Popup
	case Webview:
		return m.Webview
	default:
		return nil
	}
}

// Supports reports whether m has an activation for kind.
func Supports(m Module, kind Kind) bool {
	return ActivationFor(m, kind) != nil
}

// Contexts lists the kinds m can run in.
func Contexts(m Module) []Kind {
	var kinds []Kind
	for _, kind := range Kinds() {
		if Supports(m, kind) {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}

// Label names the action handler of m in logs.
func Label(m Module) string {
	return m.Name + "[actions]"
}
