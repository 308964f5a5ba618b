package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TIANLI0/MaskKit/geometry"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errInstancesNotList = errors.New("instances must be a list of polygons")

// Area 计算请求中所有多边形的面积之和，不调用模型
func Area(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid input"})
		return
	}
	raw, ok := body["instances"]
	if !ok {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid input"})
		return
	}

	var req model.AreaRequest
	if string(raw) == "null" || json.Unmarshal(raw, &req.Instances) != nil {
		areaFailed(c, errInstancesNotList)
		return
	}

	total, err := geometry.TotalAreaJSON(req.Instances)
	if err != nil {
		areaFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, model.AreaResponse{TotalArea: total})
}

func areaFailed(c *gin.Context, err error) {
	_ = c.Error(err)
	utils.Logger.Warn("failed to calculate area", zap.Error(err))
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Error: "Failed to calculate area: " + err.Error(),
	})
}
