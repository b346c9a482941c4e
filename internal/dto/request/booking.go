package request

type CreateBookingRequest struct {
	ExpertID    string  `json:"expert_id" validate:"required,uuid"`
	SpecialtyID string  `json:"specialty_id" validate:"required,uuid"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Start       string  `json:"start" validate:"required,datetime=15:04"`
	Duration    int     `json:"duration" validate:"required,oneof=15 30 45 60 90"`
	Visio       bool    `json:"visio"`
	Location    *string `json:"location,omitempty" validate:"omitempty,max=255"`
}

type CheckoutRequest struct {
	PromoCode  *string `json:"promo_code,omitempty" validate:"omitempty,min=2,max=64"`
	SuccessURL string  `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string  `json:"cancel_url,omitempty" validate:"omitempty,url"`
}
