package types

// ItemPayload is the opaque serialized item a listing carries, plus the
// facets used for indexing and display. The engine never interprets Data;
// it travels from the seller's inventory into the listing and out to the
// winner's collection untouched.
type ItemPayload struct {
	Material    string `json:"material" binding:"required"`
	DisplayName string `json:"display_name"`
	Data        []byte `json:"data"`
}
