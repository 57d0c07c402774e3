package lnaddress

import "encoding/json"

type registerRequest struct {
	Time       int64  `json:"time"`
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username"`
	Offer      string `json:"offer"`
	Signature  string `json:"signature"`
}

type recoverRequest struct {
	Time       int64  `json:"time"`
	WebhookURL string `json:"webhook_url"`
	Signature  string `json:"signature"`
}

type unregisterRequest struct {
	Time       int64  `json:"time"`
	WebhookURL string `json:"webhook_url"`
	Signature  string `json:"signature"`
}

type registerResponse struct {
	Lnurl            string `json:"lnurl"`
	LightningAddress string `json:"lightning_address"`
	Bip353Address    string `json:"bip353_address"`
}

func (r *registerResponse) unmarshal(body []byte) error {
	return json.Unmarshal(body, r)
}
