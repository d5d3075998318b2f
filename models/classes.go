// Package models - Label tables for the detection model families we can load.
package models

import (
	"fmt"

	"github.com/samber/lo"
)

// ModelFamily is the family of models, which decides how class indices map to labels.
type ModelFamily string

const (
	// ModelFamilyYOLO indexes the 80 COCO classes from zero, no background.
	ModelFamilyYOLO ModelFamily = "yolo"
	// ModelFamilyCOCO is the 80 COCO classes with "__background__" at index 0.
	ModelFamilyCOCO ModelFamily = "coco"
	// ModelFamilyTF is TensorFlow's sparse 90 id COCO labelmap used by SSD MobileNet exports.
	ModelFamilyTF ModelFamily = "tf"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a model family to its full list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style ModelFamily
	// Classes that are supported and mappable, keyed by position.
	Classes []OutputClass
}

// Name returns the label for a model index. Unknown or unused indices map to
// "class_<idx>" so a detection is never dropped for lack of a name.
func (s OutputClassSet) Name(idx int) string {
	if idx >= 0 && idx < len(s.Classes) && s.Classes[idx].Name != "" {
		return s.Classes[idx].Name
	}
	return fmt.Sprintf("class_%d", idx)
}

// Names returns the non-empty labels of the set.
func (s OutputClassSet) Names() []string {
	return lo.FilterMap(s.Classes, func(c OutputClass, _ int) (string, bool) {
		return c.Name, c.Name != "" && c.Name != background
	})
}

const background = "__background__"

// cocoNames are the 80 COCO object categories in canonical order.
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// tfUnusedIDs are the ids the TensorFlow labelmap skips.
var tfUnusedIDs = map[int]bool{12: true, 26: true, 29: true, 30: true, 45: true, 66: true, 68: true, 69: true, 71: true, 83: true}

// YOLOClasses is the 80 COCO classes (no background).
var YOLOClasses = OutputClassSet{
	Style: ModelFamilyYOLO,
	Classes: lo.Map(cocoNames, func(name string, i int) OutputClass {
		return OutputClass{Index: i, Name: name}
	}),
}

// COCOClasses is the full 80 COCO classes plus "__background__" at index 0.
var COCOClasses = OutputClassSet{
	Style: ModelFamilyCOCO,
	Classes: append([]OutputClass{{Index: 0, Name: background}}, lo.Map(cocoNames, func(name string, i int) OutputClass {
		return OutputClass{Index: i + 1, Name: name}
	})...),
}

// TFCOCOClasses mirrors TensorFlow's default COCO labelmap (ids 1..90 with gaps).
var TFCOCOClasses = OutputClassSet{
	Style: ModelFamilyTF,
	Classes: func() []OutputClass {
		classes := make([]OutputClass, 91)
		classes[0] = OutputClass{Index: 0, Name: background}
		next := 0
		for id := 1; id <= 90; id++ {
			classes[id].Index = id
			if tfUnusedIDs[id] {
				continue
			}
			classes[id].Name = cocoNames[next]
			next++
		}
		return classes
	}(),
}

// AllClassSets collects every OutputClassSet in one place.
var AllClassSets = []OutputClassSet{
	YOLOClasses,
	COCOClasses,
	TFCOCOClasses,
}

// ClassSet returns the set registered for a family.
func ClassSet(style ModelFamily) (OutputClassSet, error) {
	set, ok := lo.Find(AllClassSets, func(s OutputClassSet) bool { return s.Style == style })
	if !ok {
		return OutputClassSet{}, fmt.Errorf("model family %q not registered", style)
	}
	return set, nil
}

// LookupName returns the class name for a given family and index.
// If the family is unknown, it returns an empty string.
func LookupName(style ModelFamily, idx int) string {
	set, err := ClassSet(style)
	if err != nil {
		return ""
	}
	return set.Name(idx)
}
