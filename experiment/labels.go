package experiment

import "fmt"

// COCO80Labels is the standard COCO object detection vocabulary, in
// canonical order.
var COCO80Labels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// COCOStuff27Labels is the coarse COCO-Stuff vocabulary the 80 object
// classes simplify into.
var COCOStuff27Labels = []string{
	"electronic", "appliance", "food", "furniture", "indoor", "kitchen", "accessory", "animal", "outdoor", "person",
	"sports", "vehicle", "ceiling", "floor", "food", "furniture", "rawmaterial", "textile", "wall", "window",
	"building", "ground", "plant", "sky", "solid", "structural", "water",
}

var coco80To27 = map[string]string{
	"bicycle": "vehicle", "car": "vehicle", "motorcycle": "vehicle", "airplane": "vehicle", "bus": "vehicle",
	"train": "vehicle", "truck": "vehicle", "boat": "vehicle", "traffic light": "accessory", "fire hydrant": "accessory",
	"stop sign": "accessory", "parking meter": "accessory", "bench": "furniture", "bird": "animal", "cat": "animal",
	"dog": "animal", "horse": "animal", "sheep": "animal", "cow": "animal", "elephant": "animal", "bear": "animal",
	"zebra": "animal", "giraffe": "animal", "backpack": "accessory", "umbrella": "accessory", "handbag": "accessory",
	"tie": "accessory", "suitcase": "accessory", "frisbee": "sports", "skis": "sports", "snowboard": "sports",
	"sports ball": "sports", "kite": "sports", "baseball bat": "sports", "baseball glove": "sports",
	"skateboard": "sports", "surfboard": "sports", "tennis racket": "sports", "bottle": "food", "wine glass": "food",
	"cup": "food", "fork": "food", "knife": "food", "spoon": "food", "bowl": "food", "banana": "food", "apple": "food",
	"sandwich": "food", "orange": "food", "broccoli": "food", "carrot": "food", "hot dog": "food", "pizza": "food",
	"donut": "food", "cake": "food", "chair": "furniture", "couch": "furniture", "potted plant": "plant",
	"bed": "furniture", "dining table": "furniture", "toilet": "furniture", "tv": "electronic", "laptop": "electronic",
	"mouse": "electronic", "remote": "electronic", "keyboard": "electronic", "cell phone": "electronic",
	"microwave": "appliance", "oven": "appliance", "toaster": "appliance", "sink": "appliance",
	"refrigerator": "appliance", "book": "indoor", "clock": "indoor", "vase": "indoor", "scissors": "indoor",
	"teddy bear": "indoor", "hair drier": "indoor", "toothbrush": "indoor",
}

// SimplifyLabel maps a COCO-80 label onto its COCO-Stuff-27 class. Labels
// without a mapping, like "person", pass through unchanged.
func SimplifyLabel(label string) string {
	if simplified, ok := coco80To27[label]; ok {
		return simplified
	}
	return label
}

// unusedLabel names composite mask indices that fall outside the supplied
// vocabulary.
func unusedLabel(idx int) string {
	return fmt.Sprintf("__unused_%d__", idx+1)
}
