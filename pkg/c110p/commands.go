package c110p

import "github.com/roboregion/c110p/pkg/command"

// nextID derives a message id from the facade's own clock, matching
// the source protocol's use of the device timestamp as the id space.
// Collisions are possible if two commands are built within the same
// millisecond; callers sending in a tight loop should space sends or
// accept that the later one simply dedups against the earlier.
func (f *Facade) nextID() uint32 {
	return uint32(f.engine.Now())
}

// NewLedCommand builds a Led command addressed to target, with Source
// set to the facade's own region and ID derived from the current
// timestamp.
func (f *Facade) NewLedCommand(target command.Region, data command.LedData) command.Command {
	return command.Command{
		ID:     f.nextID(),
		Source: f.region,
		Target: target,
		Tag:    command.TagLed,
		Led:    data,
	}
}

// NewSoundCommand builds a Sound command addressed to target.
func (f *Facade) NewSoundCommand(target command.Region, data command.SoundData) command.Command {
	return command.Command{
		ID:     f.nextID(),
		Source: f.region,
		Target: target,
		Tag:    command.TagSound,
		Sound:  data,
	}
}

// NewMoveCommand builds a Move command addressed to target.
func (f *Facade) NewMoveCommand(target command.Region, data command.MoveData) command.Command {
	return command.Command{
		ID:     f.nextID(),
		Source: f.region,
		Target: target,
		Tag:    command.TagMove,
		Move:   data,
	}
}
