package parser

// Channel layouts of the pm record per controller firmware.
// Field order matters, it mirrors the record on the wire.
//
// Naming follows the labels in the Hargassner service interface:
// TK boiler temperature, TRG flue gas, TPo/TPm/TPu buffer top/mid/bottom,
// TRL return line, TA outdoor, ZS state code.
var firmwares = map[string][]Channel{
	"V14_0": {
		{Name: "ZS", Unit: "", Text: true},
		{Name: "O2", Unit: "%"},
		{Name: "TK", Unit: "°C"},
		{Name: "TRG", Unit: "°C"},
		{Name: "TPo", Unit: "°C"},
		{Name: "TPm", Unit: "°C"},
		{Name: "TPu", Unit: "°C"},
		{Name: "TRL", Unit: "°C"},
		{Name: "TA", Unit: "°C"},
		{Name: "Leistung", Unit: "%"},
		{Name: "Saugzug", Unit: "%"},
		{Name: "Einschub", Unit: "%"},
	},
	"V14_1HAR_q1": {
		{Name: "ZS", Unit: "", Text: true},
		{Name: "O2", Unit: "%"},
		{Name: "TK", Unit: "°C"},
		{Name: "TK_SW", Unit: "°C"},
		{Name: "TRG", Unit: "°C"},
		{Name: "TPo", Unit: "°C"},
		{Name: "TPm", Unit: "°C"},
		{Name: "TPu", Unit: "°C"},
		{Name: "TRL", Unit: "°C"},
		{Name: "TA", Unit: "°C"},
		{Name: "TVL_1", Unit: "°C"},
		{Name: "TVL_2", Unit: "°C"},
		{Name: "Leistung", Unit: "%"},
		{Name: "Saugzug", Unit: "%"},
		{Name: "Einschub", Unit: "%"},
		{Name: "Fuellstand", Unit: "%"},
	},
}
