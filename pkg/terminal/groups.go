package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	sessionCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Attaching and detaching", sessionCmds},
	{"Viewing process memory", dataCmds},
	{"Other commands", otherCmds},
}
