package domain

type StaffLoginRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=80"`
	Password string `json:"password" validate:"required"`
}

type StaffLoginResponse struct {
	StaffName   string `json:"staff_name"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
