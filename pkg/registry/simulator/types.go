/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package simulator

// Wire types of the LWN simulator REST API.

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type infoUplink struct {
	FPort int `json:"fport"`
	FCnt  int `json:"fcnt"`
}

type deviceStatus struct {
	MType      string     `json:"mtype"`
	Payload    string     `json:"payload"`
	Active     bool       `json:"active"`
	InfoUplink infoUplink `json:"infoUplink"`
	FCntDown   int        `json:"fcntDown"`
}

type deviceConfiguration struct {
	Region            int  `json:"region"`
	SendInterval      int  `json:"sendInterval"`
	AckTimeout        int  `json:"ackTimeout"`
	Range             int  `json:"range"`
	DisableFCntDown   bool `json:"disableFCntDown"`
	SupportedOTAA     bool `json:"supportedOtaa"`
	SupportedADR      bool `json:"supportedADR"`
	SupportedFragment bool `json:"supportedFragment"`
	SupportedClassB   bool `json:"supportedClassB"`
	SupportedClassC   bool `json:"supportedClassC"`
	DataRate          int  `json:"dataRate"`
	RX1DROffset       int  `json:"rx1DROffset"`
	NbRetransmission  int  `json:"nbRetransmission"`
}

type channel struct {
	Active       bool `json:"active"`
	EnableUplink bool `json:"enableUplink"`
	FreqUplink   int  `json:"freqUplink"`
	FreqDownlink int  `json:"freqDownlink"`
	MinDR        int  `json:"minDR"`
	MaxDR        int  `json:"maxDR"`
}

type rxWindow struct {
	Delay        int     `json:"delay"`
	DurationOpen int     `json:"durationOpen"`
	Channel      channel `json:"channel"`
	DataRate     int     `json:"dataRate"`
}

type deviceInfo struct {
	Name          string              `json:"name"`
	DevEUI        string              `json:"devEUI"`
	ECN           *float64            `json:"ecn,omitempty"`
	AppKey        string              `json:"appKey"`
	DevAddr       string              `json:"devAddr"`
	NwkSKey       string              `json:"nwkSKey"`
	AppSKey       string              `json:"appSKey"`
	Location      location            `json:"location"`
	Status        deviceStatus        `json:"status"`
	Configuration deviceConfiguration `json:"configuration"`
	RXs           []rxWindow          `json:"rxs"`
}

type addDeviceRequest struct {
	ID   int        `json:"id"`
	Info deviceInfo `json:"info"`
}

type gatewayInfo struct {
	MACAddress  string   `json:"macAddress"`
	KeepAlive   int      `json:"keepAlive"`
	Active      bool     `json:"active"`
	TypeGateway bool     `json:"typeGateway"`
	Name        string   `json:"name"`
	Location    location `json:"location"`
	IP          string   `json:"ip"`
	Port        string   `json:"port"`
}

type addGatewayRequest struct {
	ID   int         `json:"id"`
	Info gatewayInfo `json:"info"`
}

type apiResponse struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
}
