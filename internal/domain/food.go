package domain

// USDAFood is a food item from the USDA FoodData Central search API.
type USDAFood struct {
	FdcID        int               `json:"fdcId"`
	Description  string            `json:"description"`
	DataType     string            `json:"dataType"`
	FoodCategory string            `json:"foodCategory,omitempty"`
	FoodMeasures []USDAFoodMeasure `json:"foodMeasures,omitempty"`
	FoodPortions []USDAFoodPortion `json:"foodPortions,omitempty"`
}

// USDAFoodMeasure is a household measure with its weight, e.g. "1 cup" = 125 g.
type USDAFoodMeasure struct {
	DisseminationText       string  `json:"disseminationText"`
	GramWeight              float64 `json:"gramWeight"`
	MeasureUnitName         string  `json:"measureUnitName"`
	MeasureUnitAbbreviation string  `json:"measureUnitAbbreviation"`
	Rank                    int     `json:"rank"`
}

// USDAFoodPortion is a household portion as returned by the food details
// endpoint, e.g. amount 1, unit "cup", 120 g.
type USDAFoodPortion struct {
	Amount             float64         `json:"amount"`
	GramWeight         float64         `json:"gramWeight"`
	Modifier           string          `json:"modifier"`
	PortionDescription string          `json:"portionDescription"`
	MeasureUnit        USDAMeasureUnit `json:"measureUnit"`
}

// USDAMeasureUnit names the unit of a food portion.
type USDAMeasureUnit struct {
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

// USDASearchResponse represents the response from USDA search API
type USDASearchResponse struct {
	Foods       []USDAFood `json:"foods"`
	TotalHits   int        `json:"totalHits"`
	CurrentPage int        `json:"currentPage"`
	TotalPages  int        `json:"totalPages"`
}
