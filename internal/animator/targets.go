// Package animator maps live playback audio and elapsed time to smoothed
// blend-shape influences at render-frame rate.
package animator

// MorphMesh is a weak handle into an externally owned avatar mesh. The
// animator never owns or retains more than the channel table and a way
// to push influence values back.
type MorphMesh interface {
	Name() string
	// Channels maps morph channel names to their influence indices.
	Channels() map[string]int
	SetInfluence(channel int, value float64)
}

// Category classifies what drives a blend-shape channel.
type Category string

const (
	CategorySpeech     Category = "speech"
	CategoryBlink      Category = "blink"
	CategoryExpression Category = "expression"
)

// Target is one resolved blend-shape channel.
type Target struct {
	Mesh     MorphMesh
	Channel  int
	Category Category
}

// TargetSet groups resolved targets by category.
type TargetSet struct {
	Speech     []Target
	Blink      []Target
	Expression []Target
}

// Channel names the avatar assets expose for each category.
var channelCategories = map[string]Category{
	"viseme_aa":     CategorySpeech,
	"eyeBlinkLeft":  CategoryBlink,
	"eyeBlinkRight": CategoryBlink,
	"mouthSmile":    CategoryExpression,
}

// ResolveTargets scans the avatar meshes once, at asset-load time, and
// derives the immutable lookup table the per-frame updates run against.
// Meshes missing a channel simply contribute nothing for it.
func ResolveTargets(meshes []MorphMesh) TargetSet {
	var set TargetSet
	for _, mesh := range meshes {
		channels := mesh.Channels()
		for name, category := range channelCategories {
			index, ok := channels[name]
			if !ok {
				continue
			}
			target := Target{Mesh: mesh, Channel: index, Category: category}
			switch category {
			case CategorySpeech:
				set.Speech = append(set.Speech, target)
			case CategoryBlink:
				set.Blink = append(set.Blink, target)
			case CategoryExpression:
				set.Expression = append(set.Expression, target)
			}
		}
	}
	return set
}

// Empty reports whether no channels were resolved at all.
func (s TargetSet) Empty() bool {
	return len(s.Speech) == 0 && len(s.Blink) == 0 && len(s.Expression) == 0
}
