package aredn

import "github.com/meshtools/meshwatch/internal/model"

// Board ids that only ship a 900MHz radio.
var nineHundredMHzBoards = map[string]struct{}{
	"0xe009": {},
	"0xe1b9": {},
	"0xe239": {},
}

// Channel sets per band. Nodes sometimes report a frequency instead of a
// channel number on 3GHz hardware, so both spellings are listed.
var twoGHzChannels = makeSet(
	"-4", "-3", "-2", "-1",
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11",
)

var threeGHzChannels = makeSet(
	"76", "77", "78", "79", "80", "81", "82", "83", "84", "85", "86", "87",
	"88", "89", "90", "91", "92", "93", "94", "95", "96", "97", "98", "99",
	"3380", "3385", "3390", "3395", "3400", "3405", "3410", "3415", "3420",
	"3425", "3430", "3435", "3440", "3445", "3450", "3455", "3460", "3465",
	"3470", "3475", "3480", "3485", "3490", "3495",
)

var fiveGHzChannels = makeSet(
	"37", "40", "44", "48", "52", "56", "60", "64",
	"100", "104", "108", "112", "116", "120", "124", "128",
	"131", "132", "133", "134", "135", "136", "137", "138", "139", "140",
	"141", "142", "143", "144", "145", "146", "147", "148", "149", "150",
	"151", "152", "153", "154", "155", "156", "157", "158", "159", "160",
	"161", "162", "163", "164", "165", "166", "167", "168", "169", "170",
	"171", "172", "173", "174", "175", "176", "177", "178", "179", "180",
	"181", "182", "183", "184",
)

func makeSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// DeriveBand determines the radio band from RF status, board id and channel.
func DeriveBand(rfStatus, boardID, channel string) model.Band {
	if rfStatus != "on" {
		return model.BandOff
	}
	if _, ok := nineHundredMHzBoards[boardID]; ok {
		return model.BandNineHundredMHz
	}
	if _, ok := twoGHzChannels[channel]; ok {
		return model.BandTwoGHz
	}
	if _, ok := threeGHzChannels[channel]; ok {
		return model.BandThreeGHz
	}
	if _, ok := fiveGHzChannels[channel]; ok {
		return model.BandFiveGHz
	}
	return model.BandUnknown
}
