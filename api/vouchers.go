/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	model2 "github.com/flashmart/seckill/api/model"
	"github.com/flashmart/seckill/api/middleware"

	"github.com/gin-gonic/gin"
)

func (a Api) SeckillVoucher(c *gin.Context) {
	voucherID, ok := idParam(c, "id")
	if !ok {
		return
	}

	userID, ok := middleware.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing " + middleware.UserIDHeader + " header"})
		return
	}

	orderID, err := a.seckill.SeckillVoucher(c.Request.Context(), voucherID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model2.SeckillResponse{OrderID: orderID})
}

func (a Api) AddSeckillVoucher(c *gin.Context) {
	var newVoucher model2.CreateVoucher
	if err := c.ShouldBindJSON(&newVoucher); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newVoucher.ValidateCreateVoucher()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.seckill.AddSeckillVoucher(c.Request.Context(), newVoucher.ToVoucher())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetVoucher(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	resp, err := a.seckill.GetVoucher(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateVoucher(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var update model2.UpdateVoucher
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := update.ValidateUpdateVoucher(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.seckill.UpdateVoucher(c.Request.Context(), update.ToVoucher(id))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ResetVoucher(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var reset model2.ResetVoucher
	if err := c.ShouldBindJSON(&reset); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := reset.ValidateResetVoucher(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.seckill.ResetVoucher(c.Request.Context(), id, reset.Stock); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"voucher_id": id, "stock": reset.Stock})
}
