package encodetask

import "encoding/gob"

// init registers every concrete task type with encoding/gob so a Graph
// containing them round-trips through state.LockedState without losing
// concrete type information, mirroring how the reference implementation's
// pickle protocol recovers each task's exact class on reload.
func init() {
	gob.Register(&RemoveScriptTask{})
	gob.Register(&RemuxTask{})
	gob.Register(&ExtractSubtitlesTask{})
	gob.Register(&CleanupTask{})
	gob.Register(&VideoEncodeTask{})
	gob.Register(&ExtractStereoAudioTask{})
	gob.Register(&DownmixToStereoTask{})
	gob.Register(&NormalizeStereoTask{})
	gob.Register(&AudioEncodeTask{})
}
