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
	"strconv"

	"github.com/flashmart/seckill"
	"github.com/flashmart/seckill/api/middleware"
	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/internal/apierror"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	seckill *seckill.Seckill
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/vouchers/seckill", a.AddSeckillVoucher)
	router.POST("/vouchers/seckill/:id", a.SeckillVoucher)
	router.GET("/vouchers/:id", a.GetVoucher)
	router.PUT("/vouchers/:id", a.UpdateVoucher)
	router.POST("/vouchers/:id/reset", a.ResetVoucher)

	router.GET("/orders/:id", a.GetOrder)
	router.GET("/queue/pending", a.GetPendingOrders)

	return a.router
}

func NewAPI(s *seckill.Seckill) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.UserContext())

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{seckill: s, router: r}
}

// idParam parses the int64 route parameter name, writing a 400 when it is
// missing or malformed.
func idParam(c *gin.Context, name string) (int64, bool) {
	raw, passed := c.Params.Get(name)
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " is required. pass " + name + " in the route /:" + name})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": " + raw})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
