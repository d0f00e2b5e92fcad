package element

// SpareSwitches is the number of reserved switch slots behind the layout's
// switches; together they fill two LED chip pairs.
const SpareSwitches = 7

type switchDef struct {
	module  Module
	address uint16
}

var layoutSwitches = []switchDef{
	{ModuleNWW, 101}, {ModuleNWW, 102}, {ModuleNWW, 103}, {ModuleNWW, 104},
	{ModuleNW, 201}, {ModuleNW, 202}, {ModuleNW, 203},
	{ModuleNEE, 401}, {ModuleNEE, 402}, {ModuleNEE, 403}, {ModuleNEE, 404},
	{ModuleNEE, 405}, {ModuleNEE, 406}, {ModuleNEE, 407},
	{ModuleSWW, 501}, {ModuleSWW, 502},
	{ModuleSW, 601}, {ModuleSW, 602}, {ModuleSW, 603},
	{ModuleSE, 701},
	{ModuleSEE, 801}, {ModuleSEE, 802}, {ModuleSEE, 803}, {ModuleSEE, 804}, {ModuleSEE, 805},
}

var layoutLocomotives = []uint16{
	344,  // Hondekop
	386,  // BR 201 386
	611,  // NS 611
	612,  // NS 612
	2412, // NS 2412
}

var panelFunctions = []FunctionCode{
	FuncStore, FuncRecall, FuncActivate, FuncShow,
	FuncForward, FuncStop, FuncReverse,
	FuncLights, FuncSound, FuncWhistle, FuncHorn, FuncTwoTone,
}

// Default returns a fresh copy of the layout's element list.
func Default() []Element {
	out := make([]Element, 0, len(layoutSwitches)+SpareSwitches+len(layoutLocomotives)+len(panelFunctions)+1)
	for _, s := range layoutSwitches {
		out = append(out, NewSwitch(s.module, s.address))
	}
	for i := 0; i < SpareSwitches; i++ {
		out = append(out, NewReservedSwitch())
	}
	for _, a := range layoutLocomotives {
		out = append(out, NewLocomotive(NoModule, a))
	}
	for _, c := range panelFunctions {
		out = append(out, NewFunction(c))
	}
	return append(out, NewPower(PowerOn))
}

// MustDefault builds the default table and panics if the layout data breaks
// a table invariant.
func MustDefault() *Table {
	t, err := NewTable(Default())
	if err != nil {
		panic(err)
	}
	return t
}
