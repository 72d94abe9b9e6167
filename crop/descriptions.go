package crop

import (
	"fmt"
	"strings"
)

// Descriptions of every disease label the models can predict, keyed by the
// case-folded label. Labels use lowercase with underscores, the same form
// they carry in the training data.
var descriptions = map[string]string{
	// Cashew
	"anthracnose": "Anthracnose is a fungal disease that causes dark, sunken lesions on leaves and fruits. It thrives in warm, humid conditions. Management includes pruning affected parts, improving air circulation, and applying copper-based fungicides.",
	"gumosis":     "Gummosis causes gum exudation from bark and branches, often leading to dieback. It's typically caused by fungal pathogens or stress. Management involves removing affected branches, improving drainage, and avoiding bark injuries.",
	"leaf_miner":  "Leaf miners create serpentine tunnels in leaves, reducing photosynthesis. Control includes removing affected leaves, using beneficial insects, and applying appropriate insecticides when necessary.",
	"red_rust":    "Red rust appears as reddish-brown pustules on leaves. It's a fungal disease that can cause defoliation. Management includes improving air circulation, avoiding overhead watering, and applying fungicides if severe.",

	// Cassava
	"bacterial_blight": "Bacterial blight causes angular leaf spots, wilting, and dieback. It spreads through contaminated tools and rain splash. Management includes using clean planting material, crop rotation, and copper-based sprays.",
	"brown_spot":       "Brown spot disease creates characteristic brown spots on cassava leaves, reducing photosynthesis. Management includes practicing crop rotation, ensuring proper plant spacing, and applying suitable fungicides.",
	"green_mite":       "Green mites cause stippling and chlorotic spots on leaves. They can significantly reduce yield. Control measures include biological control with predatory mites and judicious use of miticides.",
	"mosaic":           "Cassava mosaic disease causes characteristic mosaic patterns on leaves. It significantly reduces yield. Management includes using resistant varieties and controlling whitefly vectors.",

	// Maize
	"fall_armyworm": "Fall armyworm is a destructive pest that feeds on maize leaves and stems. Control methods include early detection, biological controls, and targeted insecticide applications.",
	"grasshoper":    "Grasshoppers can cause significant damage by feeding on maize leaves. Control involves early detection, field sanitation, and targeted pesticide applications when populations are high.",
	"leaf_beetle":   "Leaf beetles chew holes in maize leaves, reducing photosynthesis. Control includes monitoring, crop rotation, and insecticide applications when infestation is severe.",
	"leaf_blight":   "Leaf blight causes large, irregular lesions on leaves, potentially leading to significant yield loss. Management includes crop rotation, resistant varieties, and fungicide applications when necessary.",
	"leaf_spot":     "Leaf spot diseases create circular or irregular spots on maize leaves. Management includes crop rotation, adequate plant spacing, and fungicide applications if severe.",
	"streak_virus":  "Maize streak virus causes characteristic light streaks on leaves. It's transmitted by leafhoppers. Control includes using resistant varieties and managing vector populations.",

	// Tomato
	"leaf_curl":          "Leaf curl virus causes leaves to curl upward and become distorted. It's transmitted by whiteflies. Management focuses on whitefly control and using resistant varieties.",
	"septoria_leaf_spot": "Septoria leaf spot causes small, circular spots with dark borders. Management includes crop rotation, proper spacing, and fungicide applications when necessary.",
	"verticulium_wilt":   "Verticillium wilt causes wilting and yellowing of leaves, starting from lower leaves. It's a soil-borne disease. Management includes crop rotation and using resistant varieties.",

	// Healthy plants
	"healthy": "Your plant appears healthy! Continue with regular care including proper watering, fertilization, and monitoring for any changes in plant health.",
}

// Description returns the text for a disease label. Unknown labels get a
// generic referral message, never an error.
func Description(label string) string {
	if d, ok := descriptions[strings.ToLower(label)]; ok {
		return d
	}
	return fmt.Sprintf("No specific information available for %s. Consult with a local agricultural extension officer for detailed management advice.", label)
}
